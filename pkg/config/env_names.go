package config

// EnvPrefix is passed to envconfig.Process; individual fields carry explicit
// names so the prefix only matters for unannotated fields.
const EnvPrefix = "ZAMMER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv  = "ZAMMER_APP_ENV"
	EnvAppPort = "ZAMMER_APP_PORT"
	EnvDBDSN   = "ZAMMER_DB_DSN"
	EnvDBHost  = "ZAMMER_DB_HOST"
	EnvDBUser  = "ZAMMER_DB_USER"
	EnvDBName  = "ZAMMER_DB_NAME"

	EnvRedisURL   = "ZAMMER_REDIS_URL"
	EnvJWTSecret  = "ZAMMER_JWT_SECRET"
	EnvJWTIssuer  = "ZAMMER_JWT_ISSUER"
	EnvJWTExpMins = "ZAMMER_JWT_EXPIRATION_MINUTES"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
