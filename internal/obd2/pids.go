package obd2

// PIDInfo describes one compiled-in Mode 01 PID table entry. Type selects
// the value formula applied in decodePIDValue.
type PIDInfo struct {
	Name string
	Type string
	Unit string
}

// pidTable mirrors OBD2_PIDS. Only service 0x01 (current data) is covered.
var pidTable = map[byte]PIDInfo{
	0x00: {"PIDs supported [01-20]", "bitfield", ""},
	0x20: {"PIDs supported [21-40]", "bitfield", ""},
	0x40: {"PIDs supported [41-60]", "bitfield", ""},
	0x60: {"PIDs supported [61-80]", "bitfield", ""},
	0x80: {"PIDs supported [81-A0]", "bitfield", ""},
	0xA0: {"PIDs supported [A1-C0]", "bitfield", ""},
	0xC0: {"PIDs supported [C1-E0]", "bitfield", ""},

	0x01: {"Monitor status since DTCs cleared", "bitfield", ""},
	0x03: {"Fuel system status", "enum", ""},

	0x04: {"Calculated engine load", "percent", "%"},
	0x05: {"Engine coolant temperature", "temp_offset", "°C"},
	0x0C: {"Engine RPM", "rpm", "RPM"},
	0x0D: {"Vehicle speed", "direct", "km/h"},
	0x0E: {"Timing advance", "timing", "° before TDC"},
	0x0F: {"Intake air temperature", "temp_offset", "°C"},
	0x1F: {"Run time since engine start", "uint16", "s"},

	0x10: {"MAF air flow rate", "maf", "g/s"},
	0x11: {"Throttle position", "percent", "%"},
	0x45: {"Relative throttle position", "percent", "%"},
	0x47: {"Absolute throttle position B", "percent", "%"},
	0x48: {"Absolute throttle position C", "percent", "%"},
	0x49: {"Accelerator pedal position D", "percent", "%"},
	0x4A: {"Accelerator pedal position E", "percent", "%"},
	0x4B: {"Accelerator pedal position F", "percent", "%"},
	0x4C: {"Commanded throttle actuator", "percent", "%"},

	0x0A: {"Fuel pressure (gauge)", "fuel_pressure", "kPa"},
	0x0B: {"Intake manifold pressure", "direct", "kPa"},
	0x22: {"Fuel rail pressure (relative)", "fuel_rail_rel", "kPa"},
	0x23: {"Fuel rail gauge pressure", "fuel_rail_abs", "kPa"},
	0x33: {"Absolute barometric pressure", "direct", "kPa"},
	0x59: {"Fuel rail absolute pressure", "fuel_rail_abs", "kPa"},

	0x46: {"Ambient air temperature", "temp_offset", "°C"},
	0x5C: {"Engine oil temperature", "temp_offset", "°C"},

	0x2F: {"Fuel tank level input", "percent", "%"},
	0x51: {"Fuel type", "fuel_type", ""},
	0x52: {"Ethanol fuel %", "percent", "%"},
	0x5E: {"Engine fuel rate", "fuel_rate", "L/h"},

	0x14: {"O2 Sensor 1 (Voltage + STFT)", "o2_voltage", "V/%"},
	0x15: {"O2 Sensor 2 (Voltage + STFT)", "o2_voltage", "V/%"},
	0x16: {"O2 Sensor 3 (Voltage + STFT)", "o2_voltage", "V/%"},
	0x17: {"O2 Sensor 4 (Voltage + STFT)", "o2_voltage", "V/%"},
	0x24: {"O2 Sensor 1 (Lambda + Voltage)", "o2_lambda", "λ/V"},
	0x25: {"O2 Sensor 2 (Lambda + Voltage)", "o2_lambda", "λ/V"},
	0x26: {"O2 Sensor 3 (Lambda + Voltage)", "o2_lambda", "λ/V"},
	0x27: {"O2 Sensor 4 (Lambda + Voltage)", "o2_lambda", "λ/V"},
	0x34: {"O2 Sensor 1 (Lambda + Current)", "o2_lambda_current", "λ/mA"},
	0x35: {"O2 Sensor 2 (Lambda + Current)", "o2_lambda_current", "λ/mA"},
	0x44: {"Commanded Air-Fuel Ratio", "commanded_lambda", "λ"},

	0x06: {"Short term fuel trim - Bank 1", "fuel_trim", "%"},
	0x07: {"Long term fuel trim - Bank 1", "fuel_trim", "%"},
	0x08: {"Short term fuel trim - Bank 2", "fuel_trim", "%"},
	0x09: {"Long term fuel trim - Bank 2", "fuel_trim", "%"},

	0x21: {"Distance with MIL on", "uint16", "km"},
	0x31: {"Distance since codes cleared", "uint16", "km"},
	0x4D: {"Time run with MIL on", "uint16", "min"},
	0x4E: {"Time since codes cleared", "uint16", "min"},

	0x42: {"Control module voltage", "voltage", "V"},
	0x5B: {"Hybrid battery pack remaining life", "percent", "%"},

	0x43: {"Absolute load value", "absolute_load", "%"},
	0x5D: {"Fuel injection timing", "injection_timing", "°"},
	0x61: {"Driver demand torque", "torque", "%"},
	0x62: {"Actual engine torque", "torque", "%"},
	0x63: {"Engine reference torque", "uint16", "Nm"},
}

var fuelTypeNames = map[byte]string{
	0: "Not available", 1: "Gasoline", 2: "Methanol", 3: "Ethanol",
	4: "Diesel", 5: "LPG", 6: "CNG", 7: "Propane", 8: "Electric",
	9: "Bifuel Gasoline", 10: "Bifuel Methanol", 11: "Bifuel Ethanol",
	12: "Bifuel LPG", 13: "Bifuel CNG", 14: "Bifuel Propane",
	15: "Bifuel Electric", 16: "Bifuel Gas/Electric",
	17: "Hybrid Gasoline", 18: "Hybrid Ethanol",
	19: "Hybrid Diesel", 20: "Hybrid Electric", 21: "Hybrid Mixed",
	22: "Hybrid Regenerative",
}

// serviceNames maps OBD-II service (mode) numbers to human-readable names.
var serviceNames = map[byte]string{
	0x01: "Show current data",
	0x02: "Show freeze frame data",
	0x03: "Show stored DTCs",
	0x04: "Clear DTCs",
	0x05: "Test results (O2 sensors)",
	0x06: "Test results (other)",
	0x07: "Show pending DTCs",
	0x09: "Request vehicle information",
	0x0A: "Permanent DTCs",
}

func serviceName(service byte) string {
	if name, ok := serviceNames[service]; ok {
		return name
	}
	return "Service"
}

// supportedPIDs decodes a 4-byte bitfield rooted at base into the list of
// PIDs it declares supported, treating bytes as MSB-first bits 1..32.
func supportedPIDs(base byte, data []byte) []byte {
	if len(data) < 4 {
		return nil
	}
	bits := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	var out []byte
	for i := 1; i <= 32; i++ {
		if bits&(1<<uint(32-i)) != 0 {
			out = append(out, base+byte(i))
		}
	}
	return out
}
