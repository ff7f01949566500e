package util

// PrefixConfig joins a config prefix and an option name for flag registration.
func PrefixConfig(prefix string, option string) string {
	if len(prefix) > 0 {
		return prefix + "." + option
	}

	return option
}
