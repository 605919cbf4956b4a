package config

const (
	// EnvPrefix is kept empty because every field declares its fully
	// prefixed env var explicitly.
	EnvPrefix = ""

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv = "PATUNGAN_APP_ENV"
	EnvDBDSN  = "PATUNGAN_DB_DSN"
	EnvDBHost = "PATUNGAN_DB_HOST"
	EnvDBUser = "PATUNGAN_DB_USER"
	EnvDBName = "PATUNGAN_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
