// Package desk holds the closed set of height presets a desk understands and
// the dispatcher that turns them into broker commands.
package desk

// Preset is a named height setting. Code is the single ASCII digit the desk
// firmware expects on its command topic.
type Preset struct {
	Name     string
	Code     string
	Synonyms []string
}

var presets = []Preset{
	{Name: "preset one", Code: "1", Synonyms: []string{"preset 1", "one"}},
	{Name: "preset two", Code: "2", Synonyms: []string{"preset 2", "two"}},
	{Name: "preset three", Code: "3", Synonyms: []string{"preset 3", "three"}},
}

// Presets returns the presets in display order.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	for i, p := range presets {
		out[i] = Preset{Name: p.Name, Code: p.Code, Synonyms: append([]string(nil), p.Synonyms...)}
	}
	return out
}

// ParsePreset matches a setting name exactly. Synonyms are resolved by the
// assistant before the name reaches us.
func ParsePreset(name string) (Preset, bool) {
	for _, p := range presets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}
