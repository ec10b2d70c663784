package config

import "strconv"

// ExpandName expands the placeholders in a display-name template:
// "%d" is replaced with the adapter index, "%h" with the host name,
// "%%" yields a literal percent sign, and a backslash escapes the
// next character. The result is truncated to at most max bytes.
func ExpandName(template string, id uint16, hostname string, max int) string {
	if max <= 0 {
		return ""
	}

	out := make([]byte, 0, len(template))

	for i := 0; i < len(template); i++ {
		switch template[i] {
		case '%':
			if i+1 >= len(template) {
				i++
				continue
			}

			i++
			switch template[i] {
			case 'd':
				out = append(out, strconv.FormatUint(uint64(id), 10)...)

			case 'h':
				out = append(out, hostname...)

			case '%':
				out = append(out, '%')
			}

		case '\\':
			if i+1 >= len(template) {
				continue
			}

			i++
			out = append(out, template[i])

		default:
			out = append(out, template[i])
		}
	}

	if len(out) > max {
		out = out[:max]
	}

	return string(out)
}
