package session

import "strings"

// SelectVoice returns the first voice whose name contains one of the
// fragments, tried in order. The zero Voice means "use the platform default"
// and is returned when nothing matches or no voices have loaded yet.
func SelectVoice(voices []Voice, fragments []string) Voice {
	for _, frag := range fragments {
		frag = strings.ToLower(strings.TrimSpace(frag))
		if frag == "" {
			continue
		}
		for _, v := range voices {
			if strings.Contains(strings.ToLower(v.Name), frag) {
				return v
			}
		}
	}
	return Voice{}
}
