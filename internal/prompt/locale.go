package prompt

// DefaultLocale is used when no locale is configured.
const DefaultLocale = "zh-CN"

// DefaultLanguage is the prompt language for unknown locales.
const DefaultLanguage = "English"

var localeNames = map[string]string{
	"en-US": "English",
	"zh-CN": "Chinese (Simplified)",
	"zh-TW": "Chinese (Traditional)",
	"ja":    "Japanese",
	"es":    "Spanish",
	"ko":    "Korean",
	"th":    "Thai",
	"ms":    "Malay",
	"pt-PT": "Portuguese",
	"de":    "German",
	"vi":    "Vietnamese",
	"fr":    "French",
	"it":    "Italian",
	"km":    "Khmer",
	"id":    "Indonesian",
	"ar":    "Arabic",
}

// LocaleName maps a locale code to the language name used in prompts.
func LocaleName(locale string) string {
	if name, ok := localeNames[locale]; ok {
		return name
	}
	return DefaultLanguage
}

// Locales returns the supported locale codes and their language names.
func Locales() map[string]string {
	out := make(map[string]string, len(localeNames))
	for k, v := range localeNames {
		out[k] = v
	}
	return out
}
