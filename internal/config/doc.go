// Package config loads surrealembed configuration.
//
// Values come from three layers, later ones winning: built-in defaults, an
// optional YAML file and environment variables. The YAML file is checked
// against an embedded CUE schema before it is decoded, so unknown keys and
// badly typed values are reported with their path.
//
// # Configuration Groups
//
//   - EngineConfig: engine URL, session selection, credentials and opt.Options
//   - TokenConfig: token signing keys, issuer and lifetime
//   - LoggingConfig: slog level and handler format
//   - MetricsConfig: Prometheus listener
//
// # Environment Variables
//
//	SURREAL_URL                  - engine URL (default: mem://)
//	SURREAL_NAMESPACE            - namespace to use
//	SURREAL_DATABASE             - database to use
//	SURREAL_USER                 - root user to sign in as
//	SURREAL_PASSWORD             - password for SURREAL_USER
//	SURREAL_STRICT               - strict mode
//	SURREAL_QUERY_TIMEOUT        - seconds or a duration such as 30s
//	SURREAL_TRANSACTION_TIMEOUT  - seconds or a duration
//	SURREAL_CAPS_DENY_FUNCTIONS  - comma separated function families to deny
//	SURREAL_CAPS_GUEST_ACCESS    - allow unauthenticated data access
//	TOKEN_PRIVATE_KEY_PATH       - PEM RSA private key
//	TOKEN_PUBLIC_KEY_PATH        - PEM RSA public key
//	TOKEN_EXPIRATION_MINS        - token lifetime (default: 60)
//	TOKEN_ISSUER                 - token issuer
//	LOG_LEVEL                    - debug, info, warn or error
//	LOG_FORMAT                   - text or json
//	METRICS_ENABLED              - serve Prometheus metrics
//	METRICS_ADDR                 - metrics listen address (default: :9090)
package config
