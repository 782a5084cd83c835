package iconpack

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
)

// Metadata documents written under assets/
const (
	AppFilterFile       = "appfilter.xml"
	DrawableFile        = "drawable.xml"
	UnfilteredMapFile   = "appfilter_unfiltered.xml"
	componentInfoFormat = "ComponentInfo{%s/%s}"
)

// ComponentInfo formats the component string launchers match icons against
func ComponentInfo(pkg, activity string) string {
	return fmt.Sprintf(componentInfoFormat, pkg, activity)
}

type resourcesDoc struct {
	XMLName  xml.Name      `xml:"resources"`
	IconBack *imageRef     `xml:"iconback,omitempty"`
	IconMask *imageRef     `xml:"iconmask,omitempty"`
	IconUpon *imageRef     `xml:"iconupon,omitempty"`
	Scale    *scaleElement `xml:"scale,omitempty"`
	Items    []itemElement `xml:"item"`
}

type imageRef struct {
	Img1 string `xml:"img1,attr"`
}

type scaleElement struct {
	Factor string `xml:"factor,attr"`
}

type itemElement struct {
	Component string `xml:"component,attr,omitempty"`
	Drawable  string `xml:"drawable,attr"`
	Name      string `xml:"name,attr,omitempty"`
}

// FilterMap builds appfilter.xml and its unfiltered variant
type FilterMap struct {
	doc resourcesDoc
}

// SetMasks references the mask layers that were written
func (m *FilterMap) SetMasks(names []string) {
	for _, n := range names {
		switch n {
		case IconBackName:
			m.doc.IconBack = &imageRef{Img1: n}
		case IconMaskName:
			m.doc.IconMask = &imageRef{Img1: n}
		case IconUponName:
			m.doc.IconUpon = &imageRef{Img1: n}
		}
	}
}

// SetScale sets the factor launchers shrink unthemed icons by; zero omits it
func (m *FilterMap) SetScale(factor float64) {
	if factor <= 0 {
		m.doc.Scale = nil
		return
	}
	m.doc.Scale = &scaleElement{Factor: strconv.FormatFloat(factor, 'f', -1, 64)}
}

// Add maps every activity of pkg to drawable
func (m *FilterMap) Add(pkg string, activities []string, drawable string) {
	for _, a := range activities {
		m.doc.Items = append(m.doc.Items, itemElement{
			Component: ComponentInfo(pkg, a),
			Drawable:  drawable,
		})
	}
}

// Len returns the number of item records
func (m *FilterMap) Len() int {
	return len(m.doc.Items)
}

// Bytes renders the document
func (m *FilterMap) Bytes() ([]byte, error) {
	return marshalResources(&m.doc)
}

// NameMap builds drawable.xml, mapping drawables to display names
type NameMap struct {
	doc resourcesDoc
}

// Add records the label for drawable
func (m *NameMap) Add(drawable, label string) {
	m.doc.Items = append(m.doc.Items, itemElement{Drawable: drawable, Name: label})
}

// Len returns the number of item records
func (m *NameMap) Len() int {
	return len(m.doc.Items)
}

// Bytes renders the document
func (m *NameMap) Bytes() ([]byte, error) {
	return marshalResources(&m.doc)
}

func marshalResources(doc *resourcesDoc) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode resources: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func writeResources(path string, doc interface{ Bytes() ([]byte, error) }) error {
	data, err := doc.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
