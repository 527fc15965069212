package app

import "github.com/qubesd/qubesd/pkg/apierror"

// Label is an immutable numeric-indexed display color, referenced by many
// Domains via their "label" property. Once created a Label's Index/Color/
// Name never change; only the Application's label collection itself
// grows or shrinks.
type Label struct {
	Index int
	Color string
	Name  string
}

// LabelCollection is the Application's name-keyed set of Labels.
type LabelCollection struct {
	byName map[string]*Label
}

// NewLabelCollection seeds the standard Qubes label set (the colors a
// fresh install ships with); callers may still Add custom labels.
func NewLabelCollection() *LabelCollection {
	c := &LabelCollection{byName: make(map[string]*Label)}
	for i, l := range []*Label{
		{Index: 1, Color: "#cc0000", Name: "red"},
		{Index: 2, Color: "#f57900", Name: "orange"},
		{Index: 3, Color: "#edd400", Name: "yellow"},
		{Index: 4, Color: "#73d216", Name: "green"},
		{Index: 5, Color: "#555753", Name: "gray"},
		{Index: 6, Color: "#3465a4", Name: "blue"},
		{Index: 7, Color: "#75507b", Name: "purple"},
		{Index: 8, Color: "#000000", Name: "black"},
	} {
		_ = i
		c.byName[l.Name] = l
	}
	return c
}

// Add registers a new Label; duplicate names are rejected.
func (c *LabelCollection) Add(l *Label) error {
	if _, exists := c.byName[l.Name]; exists {
		return apierror.WrapError(apierror.ErrInUse, "label already exists: "+l.Name, nil)
	}
	c.byName[l.Name] = l
	return nil
}

// ByName looks up a Label by name.
func (c *LabelCollection) ByName(name string) (*Label, error) {
	l, ok := c.byName[name]
	if !ok {
		return nil, apierror.WrapError(apierror.ErrNotFound, "no such label: "+name, nil)
	}
	return l, nil
}

// List returns every registered Label.
func (c *LabelCollection) List() []*Label {
	out := make([]*Label, 0, len(c.byName))
	for _, l := range c.byName {
		out = append(out, l)
	}
	return out
}
