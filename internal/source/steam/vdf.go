package steam

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// KeyValues is a parsed Valve KeyValues block: values are either strings
// or nested KeyValues.
type KeyValues map[string]any

// Block returns the nested block stored under key
func (kv KeyValues) Block(key string) (KeyValues, bool) {
	b, ok := kv[key].(KeyValues)
	return b, ok
}

// String returns the string stored under key
func (kv KeyValues) String(key string) string {
	s, _ := kv[key].(string)
	return s
}

// ParseVDF reads Valve KeyValues text (libraryfolders.vdf, appmanifest
// .acf files). Keys are matched case-sensitively; "//" comments are skipped.
func ParseVDF(r io.Reader) (KeyValues, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading vdf: %w", err)
	}
	p := &vdfParser{src: string(data)}
	root, err := p.block(false)
	if err != nil {
		return nil, err
	}
	return root, nil
}

type vdfParser struct {
	src string
	pos int
}

// block parses key/value pairs until EOF or, when nested, the closing brace.
func (p *vdfParser) block(nested bool) (KeyValues, error) {
	out := make(KeyValues)
	for {
		tok, ok, err := p.next()
		if err != nil {
			return nil, err
		}
		switch {
		case !ok && nested:
			return nil, fmt.Errorf("vdf: missing closing brace")
		case !ok:
			return out, nil
		case tok == "}" && nested:
			return out, nil
		case tok == "{" || tok == "}":
			return nil, fmt.Errorf("vdf: unexpected %q at offset %d", tok, p.pos)
		}

		key := tok
		val, ok, err := p.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("vdf: unexpected end after key %q", key)
		}
		if val == "{" {
			child, err := p.block(true)
			if err != nil {
				return nil, err
			}
			out[key] = child
			continue
		}
		out[key] = val
	}
}

// next returns the next token: a brace, a quoted string (unquoted) or a bare word.
func (p *vdfParser) next() (string, bool, error) {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			p.pos++
		case strings.HasPrefix(p.src[p.pos:], "//"):
			if nl := strings.IndexByte(p.src[p.pos:], '\n'); nl >= 0 {
				p.pos += nl + 1
			} else {
				p.pos = len(p.src)
			}
		case c == '{' || c == '}':
			p.pos++
			return string(c), true, nil
		case c == '"':
			return p.quoted()
		default:
			start := p.pos
			for p.pos < len(p.src) && !strings.ContainsRune(" \t\r\n{}\"", rune(p.src[p.pos])) {
				p.pos++
			}
			return p.src[start:p.pos], true, nil
		}
	}
	return "", false, nil
}

func (p *vdfParser) quoted() (string, bool, error) {
	start := p.pos
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case '"':
			p.pos++
			return b.String(), true, nil
		case '\\':
			if p.pos+1 < len(p.src) {
				p.pos++
				switch p.src[p.pos] {
				case 'n':
					b.WriteByte('\n')
				case 't':
					b.WriteByte('\t')
				default:
					b.WriteByte(p.src[p.pos])
				}
				p.pos++
				continue
			}
		}
		b.WriteByte(c)
		p.pos++
	}
	return "", false, fmt.Errorf("vdf: unclosed quote at offset %d", start)
}

// libraryPaths extracts the library roots of a parsed libraryfolders.vdf.
// Entries are keyed "0", "1", ... in file order.
func libraryPaths(root KeyValues) []string {
	lf, ok := root.Block("libraryfolders")
	if !ok {
		return nil
	}
	var paths []string
	for i := 0; ; i++ {
		entry, ok := lf.Block(strconv.Itoa(i))
		if !ok {
			break
		}
		if p := entry.String("path"); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// AppManifest holds the fields deftheim needs from appmanifest_<id>.acf
type AppManifest struct {
	AppID      string
	Name       string
	InstallDir string
}

// ParseAppManifest parses the content of an appmanifest file
func ParseAppManifest(data string) (AppManifest, error) {
	root, err := ParseVDF(strings.NewReader(data))
	if err != nil {
		return AppManifest{}, err
	}
	state, ok := root.Block("AppState")
	if !ok {
		return AppManifest{}, fmt.Errorf("vdf: missing AppState")
	}
	return AppManifest{
		AppID:      state.String("appid"),
		Name:       state.String("name"),
		InstallDir: state.String("installdir"),
	}, nil
}
