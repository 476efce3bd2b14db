package codec

import (
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgo/surrealembed/pkg/models"
)

func TestDecode_ModelTypes(t *testing.T) {
	c := Default()
	at := time.Date(2024, 5, 6, 7, 8, 9, 10, time.UTC)
	price, err := models.NewDecimal("99.95")
	require.NoError(t, err)
	id := models.NewUUID()

	data, err := c.Marshal(map[string]any{
		"rid":   models.NewRecordID("person", "tobie"),
		"tb":    models.Table("person"),
		"at":    models.Datetime{Time: at},
		"ttl":   models.Duration{Duration: time.Hour + time.Millisecond},
		"price": price,
		"id":    id,
		"n":     uint64(42),
		"list":  []any{uint64(1), "two"},
	})
	require.NoError(t, err)

	v, err := c.Decode(data)
	require.NoError(t, err)
	m := v.(map[string]any)
	assert.Equal(t, models.NewRecordID("person", "tobie"), m["rid"])
	assert.Equal(t, models.Table("person"), m["tb"])
	assert.True(t, m["at"].(models.Datetime).Equal(at))
	assert.Equal(t, models.Duration{Duration: time.Hour + time.Millisecond}, m["ttl"])
	assert.True(t, price.Equal(m["price"].(models.Decimal).Decimal))
	assert.Equal(t, id, m["id"])
	assert.Equal(t, int64(42), m["n"])
	assert.Equal(t, []any{int64(1), "two"}, m["list"])
}

func TestDecode_Tags(t *testing.T) {
	c := Default()

	t.Run("none is nil", func(t *testing.T) {
		data, err := c.Marshal(cbor.Tag{Number: models.TagNone, Content: nil})
		require.NoError(t, err)
		v, err := c.Decode(data)
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("unknown tag kept", func(t *testing.T) {
		data, err := c.Marshal(cbor.Tag{Number: 99, Content: "x"})
		require.NoError(t, err)
		v, err := c.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, cbor.Tag{Number: 99, Content: "x"}, v)
	})

	t.Run("legacy string record id", func(t *testing.T) {
		data, err := c.Marshal(cbor.Tag{Number: models.TagRecordID, Content: "person:7"})
		require.NoError(t, err)
		v, err := c.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, models.NewRecordID("person", int64(7)), v)
	})

	t.Run("bad record id", func(t *testing.T) {
		data, err := c.Marshal(cbor.Tag{Number: models.TagRecordID, Content: []any{"person"}})
		require.NoError(t, err)
		_, err = c.Decode(data)
		require.ErrorIs(t, err, ErrDecode)
	})

	t.Run("large unsigned stays unsigned", func(t *testing.T) {
		data, err := c.Marshal(uint64(1 << 63))
		require.NoError(t, err)
		v, err := c.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, uint64(1<<63), v)
	})
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Default().Decode([]byte{0x5f})
	require.ErrorIs(t, err, ErrDecode)
}

func TestMarshal_Deterministic(t *testing.T) {
	c := Default()
	doc := map[string]any{"zeta": 1, "a": 2, "mid": map[string]any{"y": 1, "b": 2}}
	first, err := c.Marshal(doc)
	require.NoError(t, err)
	for range 20 {
		again, err := c.Marshal(doc)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestUnmarshal_Struct(t *testing.T) {
	type person struct {
		ID   models.RecordID `cbor:"id"`
		Name string          `cbor:"name"`
	}
	c := Default()
	data, err := c.Marshal(map[string]any{"id": models.NewRecordID("person", int64(1)), "name": "Tobie"})
	require.NoError(t, err)

	var p person
	require.NoError(t, c.Unmarshal(data, &p))
	assert.Equal(t, person{ID: models.NewRecordID("person", int64(1)), Name: "Tobie"}, p)
}
