package driver

import (
	"github.com/nerrad567/gray-logic-gateway/internal/matter"
)

// Driver names. They are stored in devices.driver.
const (
	NameLight      = "light"
	NamePlug       = "plug"
	NameSensor     = "sensor"
	NameThermostat = "thermostat"
	NameBridge     = "bridge"
	NameGeneric    = "generic"
)

// reading maps one attribute onto one state key.
type reading struct {
	cluster matter.ClusterID
	attr    matter.AttributeID
	key     string
	convert func(any) (any, bool)
}

func (r reading) path(ep matter.EndpointID) matter.AttributePath {
	return matter.AttributePath{Endpoint: ep, Cluster: r.cluster, Attribute: r.attr}
}

// class describes a device class: which device types select it and what
// it reads.
type class struct {
	name     string
	types    []matter.DeviceTypeID
	readings []reading
}

// classes are tried in order; the first whose device types appear on any
// endpoint wins. Bridges come first so an aggregator of lights is a bridge.
var classes = []class{
	{
		name:  NameBridge,
		types: []matter.DeviceTypeID{matter.DeviceTypeAggregator},
	},
	{
		name: NameThermostat,
		types: []matter.DeviceTypeID{
			matter.DeviceTypeThermostat,
		},
		readings: []reading{
			{matter.ClusterThermostat, matter.AttrLocalTemperature, "local_temperature", centi},
			{matter.ClusterThermostat, matter.AttrOccupiedHeatingSetpoint, "heating_setpoint", centi},
			{matter.ClusterThermostat, matter.AttrSystemMode, "system_mode", systemMode},
		},
	},
	{
		name: NameLight,
		types: []matter.DeviceTypeID{
			matter.DeviceTypeOnOffLight,
			matter.DeviceTypeDimmableLight,
			matter.DeviceTypeColorTempLight,
			matter.DeviceTypeExtendedColorLight,
		},
		readings: []reading{
			{matter.ClusterOnOff, matter.AttrOnOff, "on", flag},
			{matter.ClusterLevelControl, matter.AttrCurrentLevel, "level", number},
			{matter.ClusterColorControl, matter.AttrColorTemperature, "color_temperature_mireds", number},
		},
	},
	{
		name: NamePlug,
		types: []matter.DeviceTypeID{
			matter.DeviceTypeOnOffPlug,
			matter.DeviceTypeDimmablePlug,
		},
		readings: []reading{
			{matter.ClusterOnOff, matter.AttrOnOff, "on", flag},
			{matter.ClusterLevelControl, matter.AttrCurrentLevel, "level", number},
			{matter.ClusterElectricalPower, matter.AttrActivePower, "active_power_w", milli},
		},
	},
	{
		name: NameSensor,
		types: []matter.DeviceTypeID{
			matter.DeviceTypeContactSensor,
			matter.DeviceTypeLightSensor,
			matter.DeviceTypeOccupancySensor,
			matter.DeviceTypeTemperatureSensor,
			matter.DeviceTypeHumiditySensor,
		},
		readings: []reading{
			{matter.ClusterTemperature, matter.AttrMeasuredValue, "temperature", centi},
			{matter.ClusterRelativeHumidity, matter.AttrMeasuredValue, "humidity", centi},
			{matter.ClusterIlluminance, matter.AttrMeasuredValue, "illuminance", number},
			{matter.ClusterOccupancy, matter.AttrOccupancy, "occupied", firstBit},
			{matter.ClusterBooleanState, matter.AttrStateValue, "contact", flag},
		},
	},
}

// genericClass matches anything and reads nothing.
var genericClass = class{name: NameGeneric}

// toFloat widens any numeric attribute value.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func number(v any) (any, bool) {
	f, ok := toFloat(v)
	if !ok {
		return nil, false
	}
	return f, true
}

// centi converts hundredths (temperatures, humidity) to units.
func centi(v any) (any, bool) {
	f, ok := toFloat(v)
	if !ok {
		return nil, false
	}
	return f / 100, true
}

// milli converts milliwatts to watts.
func milli(v any) (any, bool) {
	f, ok := toFloat(v)
	if !ok {
		return nil, false
	}
	return f / 1000, true
}

func flag(v any) (any, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	f, ok := toFloat(v)
	if !ok {
		return nil, false
	}
	return f != 0, true
}

func firstBit(v any) (any, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	f, ok := toFloat(v)
	if !ok {
		return nil, false
	}
	return uint64(f)&1 == 1, true
}

var systemModes = map[uint64]string{
	0: "off",
	1: "auto",
	3: "cool",
	4: "heat",
	5: "emergency_heat",
	6: "precooling",
	7: "fan_only",
	8: "dry",
	9: "sleep",
}

func systemMode(v any) (any, bool) {
	if s, ok := v.(string); ok {
		return s, true
	}
	f, ok := toFloat(v)
	if !ok {
		return nil, false
	}
	if name, ok := systemModes[uint64(f)]; ok {
		return name, true
	}
	return f, true
}
