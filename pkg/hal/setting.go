package hal

// Setting is one module parameter that is written with an AT command, e.g. AT+CHANNEL=23
type Setting interface {
	// GetName returns the AT keyword, e.g. CHANNEL
	GetName() string
	// GetValue returns the value as it is written after the '=' sign
	GetValue() string
	// SetValue parses a value in the form the module reports it
	SetValue(value string) error
}
