package config

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	LogLevel          string // sets the log level (zap log level values)
	LogFormat         string // text vs json
	LogConfig         string // path to log config file
	EnableTelemetry   bool   // enable telemetry
	TelemetryEndpoint string // endpoint for telemetry
	ProfilingPort     int    // port for profiling
	HTTPServerAddr    string // listen addr for the HTTP API
	NatsURL           string // NATS server URL, empty disables the mirror
	CoinboxURL        string // base URL of the coin-box HTTP API, empty disables it
	PollInterval      string // coin-box poll interval
	Simulate          bool   // use the built-in control unit simulator
	SimLapTime        string // simulator base lap time
	SimSectors        int    // simulator sector markers per lap
)
