package config

import "time"

// FileName is the configuration file inside the lbox directory.
const FileName = "lbox.lua"

// Lua schema field names and globals
const (
	luaGlobalLbox       = "lbox"
	luaFieldStorage     = "storage"
	luaFieldDownloads   = "downloads"
	luaFieldContainer   = "container"
	luaFieldState       = "state"
	luaFieldTransfer    = "transfer"
	luaFieldRateLimit   = "rate_limit"
	luaFieldRetries     = "retries"
	luaFieldConnTimeout = "connect_timeout"
	luaFieldConcurrency = "fetch_concurrency"
	luaFieldInstall     = "install"
	luaFieldAutoInstall = "auto_install"
	luaFieldVerify      = "verify"
	luaFieldInterval    = "interval"
	luaFieldRepos       = "repositories"
	luaFieldURL         = "url"
	luaFieldName        = "name"
	luaFieldEnabled     = "enabled"
)

// Defaults and limits.
const (
	DefaultRetries          = 0
	DefaultConnectTimeout   = 30 * time.Second
	DefaultFetchConcurrency = 3
	DefaultVerifyInterval   = time.Minute

	MaxRetries          = 20
	MaxFetchConcurrency = 16
	MaxRepositories     = 256
)
