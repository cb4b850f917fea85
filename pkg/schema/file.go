package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/pathfold/pkg/index"
)

// File is the YAML layout of a schema file.
//
//	classes:
//	  - name: Person
//	    properties:
//	      - {name: name, type: string}
//	      - {name: address, type: link, linked: Address}
//	    indexes:
//	      - fields: [address]
//	      - name: Person.name_age
//	        fields: [name, age]
type File struct {
	Classes []ClassFile `yaml:"classes"`
}

// ClassFile describes one class in a schema file.
type ClassFile struct {
	Name       string         `yaml:"name"`
	Properties []PropertyFile `yaml:"properties"`
	Indexes    []IndexFile    `yaml:"indexes"`
}

// PropertyFile describes one property in a schema file.
type PropertyFile struct {
	Name   string       `yaml:"name"`
	Type   PropertyType `yaml:"type"`
	Linked string       `yaml:"linked,omitempty"`
}

// IndexFile describes one index in a schema file. More than one field makes a
// composite index.
type IndexFile struct {
	Name   string   `yaml:"name,omitempty"`
	Fields []string `yaml:"fields"`
}

// LoadFile reads a YAML schema file and builds a Schema with factory.
func LoadFile(path string, factory index.Factory) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	s, err := Parse(data, factory)
	if err != nil {
		return nil, fmt.Errorf("schema file %s: %w", path, err)
	}
	return s, nil
}

// Parse builds a Schema from YAML. Classes may link to classes declared later
// in the same document.
func Parse(data []byte, factory index.Factory) (*Schema, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return f.Build(factory)
}

// Build creates the classes, then the properties, then the indexes.
func (f *File) Build(factory index.Factory) (*Schema, error) {
	s := New(factory)

	for _, cf := range f.Classes {
		if _, err := s.AddClass(cf.Name); err != nil {
			return nil, err
		}
	}

	for _, cf := range f.Classes {
		for _, pf := range cf.Properties {
			var err error
			if pf.Type == TypeLink || pf.Linked != "" {
				if pf.Linked == "" {
					return nil, fmt.Errorf("%w: %s.%s: link without linked class", ErrInvalidSchema, cf.Name, pf.Name)
				}
				_, err = s.AddLinkProperty(cf.Name, pf.Name, pf.Linked)
			} else {
				typ := pf.Type
				if typ == "" {
					typ = TypeString
				}
				_, err = s.AddProperty(cf.Name, pf.Name, typ)
			}
			if err != nil {
				return nil, err
			}
		}
	}

	for _, cf := range f.Classes {
		for _, xf := range cf.Indexes {
			var err error
			switch len(xf.Fields) {
			case 0:
				err = fmt.Errorf("%w: index on %s has no fields", ErrInvalidSchema, cf.Name)
			case 1:
				_, err = s.AddIndex(cf.Name, xf.Name, xf.Fields[0])
			default:
				_, err = s.AddCompositeIndex(cf.Name, xf.Name, xf.Fields...)
			}
			if err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}
