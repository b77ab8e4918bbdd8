package model

// Driver is the configured profile for one lane.
type Driver struct {
	Name  string `json:"name" mapstructure:"name"`
	Code  string `json:"code" mapstructure:"code"`
	Color string `json:"color" mapstructure:"color"`
}

// DriverContext is the driver info resolved at event emission time.
type DriverContext struct {
	Lane  int    `json:"lane"`
	Name  string `json:"name"`
	Code  string `json:"code"`
	Color string `json:"color"`
}
