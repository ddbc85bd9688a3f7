package common

// Environment variable keys
const (
	EnvConfigFile          = "CONFIG_FILE"
	EnvModelPath           = "MODEL_PATH"
	EnvEncoderPath         = "ENCODER_PATH"
	EnvBaseDir             = "BASE_DIR"
	EnvEncodingPolicy      = "ENCODING_POLICY"
	EnvTargetEncoder       = "TARGET_ENCODER"
	EnvEnableProbabilities = "ENABLE_PROBABILITIES"
	EnvHTTPPort            = "HTTP_PORT"
	EnvDataPath            = "DATA_PATH"
	EnvCacheSize           = "CACHE_SIZE"
	EnvRequestTimeout      = "REQUEST_TIMEOUT"
	EnvMaxBodyBytes        = "MAX_BODY_BYTES"
	EnvLogLevel            = "LOG_LEVEL"
	EnvLogFile             = "LOG_FILE"
)

// Configuration defaults
const (
	DefaultModelPath      = "models/model.json"
	DefaultEncodingPolicy = "passthrough"
	DefaultTargetEncoder  = "action_classification"
	DefaultHTTPPort       = 8000
	DefaultCacheSize      = 0
	DefaultMaxBodyBytes   = 1 << 20 // 1 MiB
	DefaultLogLevel       = "info"
)

// HTTP
const (
	HeaderRequestID = "X-Request-ID"
	RootMessage     = "Backend is running!"
)
