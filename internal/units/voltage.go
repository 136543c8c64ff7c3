package units

// ADC reference and resolution of the flight computer's 12-bit converter.
const (
	adcReference = 3.3
	adcMax       = 4095.0
)

// Resistor dividers in front of the ADC, in kΩ.
const (
	batteryDividerTop    = 5.6
	batteryDividerBottom = 10.0
	pyroDividerTop       = 100.0
	pyroDividerBottom    = 27.0
)

// Igniter sense inputs are 8-bit samples where 68 counts correspond to 4.14V.
const (
	igniterCounts = 68.0
	igniterVolts  = 4.14
)

// BatteryVoltage converts a raw battery ADC sample to volts.
func BatteryVoltage(raw int16) float64 {
	return adcReference * float64(raw) / adcMax * (batteryDividerTop + batteryDividerBottom) / batteryDividerBottom
}

// PyroVoltage converts a raw pyro supply ADC sample to volts.
func PyroVoltage(raw int16) float64 {
	return adcReference * float64(raw) / adcMax * (pyroDividerTop + pyroDividerBottom) / pyroDividerBottom
}

// IgniterVoltage converts an 8-bit igniter continuity sense sample to volts.
func IgniterVoltage(raw uint8) float64 {
	return float64(raw) / igniterCounts * igniterVolts
}
