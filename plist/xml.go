package plist

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
`

// EncodeXML serializes v to the XML plist form, tab-indented under the
// usual Apple header. Null becomes <null/> so every Value stays encodable.
func EncodeXML(v Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	if err := writeXML(&buf, v, 0); err != nil {
		return nil, err
	}
	buf.WriteString("</plist>\n")
	return buf.Bytes(), nil
}

func writeXML(buf *bytes.Buffer, v Value, depth int) error {
	if v == nil {
		return errors.New("plist: cannot encode nil value")
	}
	indent := strings.Repeat("\t", depth)
	switch t := v.(type) {
	case Null:
		buf.WriteString(indent + "<null/>\n")
	case Bool:
		if t {
			buf.WriteString(indent + "<true/>\n")
		} else {
			buf.WriteString(indent + "<false/>\n")
		}
	case Integer:
		fmt.Fprintf(buf, "%s<integer>%d</integer>\n", indent, int64(t))
	case Real:
		fmt.Fprintf(buf, "%s<real>%s</real>\n", indent, strconv.FormatFloat(float64(t), 'g', -1, 64))
	case String:
		fmt.Fprintf(buf, "%s<string>%s</string>\n", indent, xmlEscape(string(t)))
	case Data:
		fmt.Fprintf(buf, "%s<data>%s</data>\n", indent, base64.StdEncoding.EncodeToString(t))
	case Date:
		// Fractional seconds only when present; whole-second dates keep the
		// plain form devices emit.
		fmt.Fprintf(buf, "%s<date>%s</date>\n", indent, time.Time(t).UTC().Format("2006-01-02T15:04:05.999999Z"))
	case Array:
		if len(t) == 0 {
			buf.WriteString(indent + "<array/>\n")
			break
		}
		buf.WriteString(indent + "<array>\n")
		for _, el := range t {
			if err := writeXML(buf, el, depth+1); err != nil {
				return err
			}
		}
		buf.WriteString(indent + "</array>\n")
	case *Dict:
		if t.Len() == 0 {
			buf.WriteString(indent + "<dict/>\n")
			break
		}
		buf.WriteString(indent + "<dict>\n")
		for _, k := range t.keys {
			fmt.Fprintf(buf, "%s\t<key>%s</key>\n", indent, xmlEscape(k))
			if err := writeXML(buf, t.values[k], depth+1); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
		buf.WriteString(indent + "</dict>\n")
	default:
		return fmt.Errorf("plist: cannot encode %T", v)
	}
	return nil
}

func xmlEscape(s string) string {
	var b bytes.Buffer
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

// decodeXML parses an XML plist. A <plist> wrapper element is accepted but
// not required.
func decodeXML(data []byte) (Value, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "plist" {
			return xmlElement(dec, start)
		}
		v, ok, err := xmlValue(dec)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: empty plist document", ErrMalformed)
		}
		return v, nil
	}
}

// xmlValue parses the next child element as a value; ok is false when the
// enclosing end tag arrives first.
func xmlValue(dec *xml.Decoder) (Value, bool, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			v, err := xmlElement(dec, t)
			if err != nil {
				return nil, false, err
			}
			return v, true, nil
		case xml.EndElement:
			return nil, false, nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return nil, false, fmt.Errorf("%w: stray text %q", ErrMalformed, string(bytes.TrimSpace(t)))
			}
		}
	}
}

func xmlElement(dec *xml.Decoder, start xml.StartElement) (Value, error) {
	switch start.Name.Local {
	case "dict":
		d := NewDict()
		for {
			key, ok, err := xmlKey(dec)
			if err != nil {
				return nil, err
			}
			if !ok {
				return d, nil
			}
			v, ok, err := xmlValue(dec)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w: key %q has no value", ErrMalformed, key)
			}
			d.Set(key, v)
		}
	case "array":
		arr := Array{}
		for {
			v, ok, err := xmlValue(dec)
			if err != nil {
				return nil, err
			}
			if !ok {
				return arr, nil
			}
			arr = append(arr, v)
		}
	case "string":
		s, err := xmlText(dec)
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case "integer":
		s, err := xmlText(dec)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad integer %q", ErrMalformed, strings.TrimSpace(s))
		}
		return Integer(n), nil
	case "real":
		s, err := xmlText(dec)
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad real %q", ErrMalformed, strings.TrimSpace(s))
		}
		return Real(f), nil
	case "true":
		return Bool(true), skipElement(dec)
	case "false":
		return Bool(false), skipElement(dec)
	case "null":
		return Null{}, skipElement(dec)
	case "data":
		s, err := xmlText(dec)
		if err != nil {
			return nil, err
		}
		raw, err := base64.StdEncoding.DecodeString(stripSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%w: bad base64 data: %v", ErrMalformed, err)
		}
		return Data(raw), nil
	case "date":
		s, err := xmlText(dec)
		if err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%w: bad date %q", ErrMalformed, strings.TrimSpace(s))
		}
		return Date(t), nil
	}
	return nil, fmt.Errorf("%w: unknown element <%s>", ErrMalformed, start.Name.Local)
}

// xmlKey reads a <key> element, or reports ok=false at the dict's end tag.
func xmlKey(dec *xml.Decoder) (string, bool, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", false, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "key" {
				return "", false, fmt.Errorf("%w: expected <key>, found <%s>", ErrMalformed, t.Name.Local)
			}
			s, err := xmlText(dec)
			return s, true, err
		case xml.EndElement:
			return "", false, nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return "", false, fmt.Errorf("%w: stray text %q", ErrMalformed, string(bytes.TrimSpace(t)))
			}
		}
	}
}

// xmlText collects character data until the current element closes.
func xmlText(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			return sb.String(), nil
		case xml.StartElement:
			return "", fmt.Errorf("%w: unexpected element <%s>", ErrMalformed, t.Name.Local)
		}
	}
}

func skipElement(dec *xml.Decoder) error {
	if err := dec.Skip(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}
