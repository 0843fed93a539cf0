// Package descriptor reads and patches the plugin descriptor (META-INF/plugin.xml).
// Patching streams the XML token by token so unrelated content such as
// extension registrations and actions is carried over untouched.
package descriptor

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const rootElement = "idea-plugin"

var ErrNotDescriptor = errors.New("not a plugin descriptor")

// Descriptor holds the descriptor fields the build reads or verifies.
type Descriptor struct {
	XMLName     xml.Name    `xml:"idea-plugin"`
	ID          string      `xml:"id"`
	Name        string      `xml:"name"`
	Version     string      `xml:"version"`
	Vendor      Vendor      `xml:"vendor"`
	Description Markup      `xml:"description"`
	ChangeNotes Markup      `xml:"change-notes"`
	IdeaVersion IdeaVersion `xml:"idea-version"`
	Depends     []string    `xml:"depends"`
}

// Vendor is the plugin author.
type Vendor struct {
	Name  string `xml:",chardata"`
	Email string `xml:"email,attr"`
	URL   string `xml:"url,attr"`
}

// IdeaVersion is the compatible IDE build range.
type IdeaVersion struct {
	SinceBuild string `xml:"since-build,attr"`
	UntilBuild string `xml:"until-build,attr"`
}

// Markup is an element holding HTML. The HTML may be wrapped in CDATA,
// entity-escaped, or written as nested elements.
type Markup string

// UnmarshalXML collects the element content back into an HTML string.
func (m *Markup) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var b strings.Builder
	depth := 0
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.StartElement:
			depth++
			b.WriteString("<" + t.Name.Local)
			for _, a := range t.Attr {
				fmt.Fprintf(&b, ` %s="%s"`, a.Name.Local, html.EscapeString(a.Value))
			}
			b.WriteString(">")
		case xml.EndElement:
			if depth == 0 {
				*m = Markup(b.String())
				return nil
			}
			depth--
			b.WriteString("</" + t.Name.Local + ">")
		}
	}
}

// HTML returns the markup trimmed of surrounding whitespace.
func (m Markup) HTML() string {
	return strings.TrimSpace(string(m))
}

// Text returns the visible text of the markup.
func (m Markup) Text() string {
	return PlainText(m.HTML())
}

// Parse decodes a descriptor.
func Parse(r io.Reader) (Descriptor, error) {
	var d Descriptor
	if err := xml.NewDecoder(r).Decode(&d); err != nil {
		var unexpected xml.UnmarshalError
		if errors.As(err, &unexpected) {
			return d, fmt.Errorf("%w: %w", ErrNotDescriptor, err)
		}
		return d, fmt.Errorf("failed to parse descriptor: %w", err)
	}
	return d, nil
}

// Load reads a descriptor from disk.
func Load(path string) (Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Descriptor{}, err
	}
	defer f.Close()

	d, err := Parse(f)
	if err != nil {
		return d, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// PlainText collapses an HTML fragment to its visible text.
func PlainText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// PatchOptions are the values written into the patched descriptor.
// Empty fields leave the source element as it is.
type PatchOptions struct {
	Version     string
	Name        string
	SinceBuild  string
	UntilBuild  string
	ChangeNotes string
}

// Patch rewrites the descriptor read from r into w.
func Patch(r io.Reader, w io.Writer, opts PatchOptions) error {
	dec := xml.NewDecoder(r)
	enc := xml.NewEncoder(w)

	replacements := opts.elements()
	seen := make(map[string]bool, len(replacements))
	depth := 0
	sawRoot := false

	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read descriptor: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			t = flatten(t)
			if depth == 0 {
				if t.Name.Local != rootElement {
					return fmt.Errorf("%w: root element is <%s>", ErrNotDescriptor, t.Name.Local)
				}
				sawRoot = true
			}
			if depth == 1 {
				if el, ok := replacements[t.Name.Local]; ok {
					if err := skipElement(dec); err != nil {
						return err
					}
					if err := el.encode(enc); err != nil {
						return err
					}
					seen[t.Name.Local] = true
					continue
				}
			}
			depth++
			if err := enc.EncodeToken(t); err != nil {
				return err
			}

		case xml.EndElement:
			depth--
			if depth == 0 {
				for _, name := range elementOrder {
					el, ok := replacements[name]
					if !ok || seen[name] {
						continue
					}
					if err := el.encode(enc); err != nil {
						return err
					}
					if err := enc.EncodeToken(xml.CharData("\n")); err != nil {
						return err
					}
				}
			}
			if err := enc.EncodeToken(xml.EndElement{Name: flattenName(t.Name)}); err != nil {
				return err
			}

		case xml.ProcInst, xml.Comment, xml.Directive, xml.CharData:
			if err := enc.EncodeToken(xml.CopyToken(t)); err != nil {
				return err
			}
		}
	}

	if !sawRoot {
		return ErrNotDescriptor
	}

	return enc.Flush()
}

// PatchFile patches src into dst, creating dst's directory.
func PatchFile(src, dst string, opts PatchOptions) error {
	in, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := Patch(bytes.NewReader(in), &buf, opts); err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, buf.Bytes(), 0644)
}

// elementOrder is the insertion order for elements missing from the source.
var elementOrder = []string{"name", "version", "idea-version", "change-notes"}

type element struct {
	start xml.StartElement
	text  string
}

func (e element) encode(enc *xml.Encoder) error {
	if err := enc.EncodeToken(e.start); err != nil {
		return err
	}
	if e.text != "" {
		if err := enc.EncodeToken(xml.CharData(e.text)); err != nil {
			return err
		}
	}
	return enc.EncodeToken(e.start.End())
}

func (o PatchOptions) elements() map[string]element {
	els := make(map[string]element)
	if o.Name != "" {
		els["name"] = element{start: xml.StartElement{Name: xml.Name{Local: "name"}}, text: o.Name}
	}
	if o.Version != "" {
		els["version"] = element{start: xml.StartElement{Name: xml.Name{Local: "version"}}, text: o.Version}
	}
	if o.SinceBuild != "" {
		attrs := []xml.Attr{{Name: xml.Name{Local: "since-build"}, Value: o.SinceBuild}}
		if o.UntilBuild != "" {
			attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "until-build"}, Value: o.UntilBuild})
		}
		els["idea-version"] = element{start: xml.StartElement{Name: xml.Name{Local: "idea-version"}, Attr: attrs}}
	}
	if o.ChangeNotes != "" {
		els["change-notes"] = element{start: xml.StartElement{Name: xml.Name{Local: "change-notes"}}, text: o.ChangeNotes}
	}
	return els
}

func skipElement(dec *xml.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.RawToken()
		if err != nil {
			return fmt.Errorf("failed to read descriptor: %w", err)
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

// flatten folds raw namespace prefixes into local names so the encoder
// writes them back verbatim instead of inventing xmlns attributes.
func flatten(t xml.StartElement) xml.StartElement {
	out := xml.StartElement{Name: flattenName(t.Name), Attr: make([]xml.Attr, len(t.Attr))}
	for i, a := range t.Attr {
		out.Attr[i] = xml.Attr{Name: flattenName(a.Name), Value: a.Value}
	}
	return out
}

func flattenName(n xml.Name) xml.Name {
	if n.Space == "" {
		return n
	}
	return xml.Name{Local: n.Space + ":" + n.Local}
}
