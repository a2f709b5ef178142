package verify

// VariableMap translates archive request names to the short names found on
// disk. Names without an entry resolve to themselves.
type VariableMap map[string]string

// DefaultMapping returns the ERA5-Land request-to-file name table.
// evaporation and total_evaporation both land on "e".
func DefaultMapping() VariableMap {
	return VariableMap{
		"2m_temperature":                               "t2m",
		"2m_dewpoint_temperature":                      "d2m",
		"skin_temperature":                             "skt",
		"soil_temperature_level_1":                     "stl1",
		"soil_temperature_level_2":                     "stl2",
		"soil_temperature_level_3":                     "stl3",
		"soil_temperature_level_4":                     "stl4",
		"surface_solar_radiation_downwards":            "ssrd",
		"surface_thermal_radiation_downwards":          "strd",
		"surface_net_solar_radiation":                  "ssr",
		"surface_net_thermal_radiation":                "str",
		"surface_solar_radiation_downward_clear_sky":   "ssrdc",
		"surface_thermal_radiation_downward_clear_sky": "strdc",
		"10m_u_component_of_wind":                      "u10",
		"10m_v_component_of_wind":                      "v10",
		"total_precipitation":                          "tp",
		"snowfall":                                     "sf",
		"surface_pressure":                             "sp",
		"surface_runoff":                               "sro",
		"sub_surface_runoff":                           "ssro",
		"volumetric_soil_water_layer_1":                "swvl1",
		"volumetric_soil_water_layer_2":                "swvl2",
		"volumetric_soil_water_layer_3":                "swvl3",
		"volumetric_soil_water_layer_4":                "swvl4",
		"leaf_area_index_high_vegetation":              "lai_hv",
		"leaf_area_index_low_vegetation":               "lai_lv",
		"snow_depth":                                   "sd",
		"snow_cover":                                   "snowc",
		"evaporation":                                  "e",
		"potential_evaporation":                        "pev",
		"runoff":                                       "ro",
		"total_evaporation":                            "e",
	}
}

// NewVariableMap returns the default table with overrides applied on top.
func NewVariableMap(overrides map[string]string) VariableMap {
	m := DefaultMapping()
	for k, v := range overrides {
		m[k] = v
	}
	return m
}

// Resolve returns the on-disk name for a declared variable.
func (m VariableMap) Resolve(declared string) string {
	if name, ok := m[declared]; ok && name != "" {
		return name
	}
	return declared
}
