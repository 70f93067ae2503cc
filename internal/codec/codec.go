// SPDX-License-Identifier: LGPL-2.1-only

// Package codec implements the Parse/Serialize/Pretty contract the
// datastore dump/load path and the edit engine's RESTCONF body decoding
// depend on, for both the XML encoding (NETCONF's only wire format) and
// the JSON encoding (RESTCONF's default). Every example repo that speaks
// NETCONF (nemith-netconf, cisco-ie-netgonf, the DinbandhuKumarSingh and
// damianoneill drivers under other_examples/) reaches for stdlib
// encoding/xml rather than a third-party XML library, and nothing in the
// corpus imports a JSON library directly either (cuemby-warren's
// goccy/go-json is a transitive dependency of gin, never imported by its
// own code) — see DESIGN.md.
package codec

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/clicon-go/confd/internal/tree"
)

// Codec converts between a wire encoding and the Configuration Tree.
type Codec interface {
	// Parse decodes data into a freshly built Tree rooted at the top-level
	// element/object.
	Parse(data []byte) (*tree.Tree, error)
	// Serialize encodes the subtree rooted at id into the wire form.
	Serialize(t *tree.Tree, id tree.ID) ([]byte, error)
	// Pretty is Serialize with indentation, for dump files and CLI display.
	Pretty(t *tree.Tree, id tree.ID) ([]byte, error)
}

// XML is the NETCONF wire codec.
type XML struct{}

type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

// Parse decodes an XML document into a Tree.
func (XML) Parse(data []byte) (*tree.Tree, error) {
	var root xmlNode
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("codec: parse xml: %w", err)
	}
	t := tree.New(root.XMLName.Local, root.XMLName.Space)
	r := t.Node(t.Root())
	for _, a := range root.Attrs {
		if a.Name.Space == "xmlns" {
			r.SetAttr("xmlns:"+a.Name.Local, "", a.Value)
			continue
		}
		r.SetAttr(a.Name.Local, a.Name.Space, a.Value)
	}
	r.Body = root.Content
	buildXMLChildren(t, t.Root(), root.Children)
	return t, nil
}

func buildXMLChildren(t *tree.Tree, parent tree.ID, children []xmlNode) {
	for _, c := range children {
		id := t.AddChild(parent, c.XMLName.Local, c.XMLName.Space)
		n := t.Node(id)
		n.Body = c.Content
		for _, a := range c.Attrs {
			if a.Name.Space == "xmlns" {
				n.SetAttr("xmlns:"+a.Name.Local, "", a.Value)
				continue
			}
			n.SetAttr(a.Name.Local, a.Name.Space, a.Value)
		}
		buildXMLChildren(t, id, c.Children)
	}
}

// Serialize encodes the subtree rooted at id as XML, no indentation.
func (XML) Serialize(t *tree.Tree, id tree.ID) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeXML(&buf, t, id, ""); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Pretty encodes the subtree rooted at id as indented XML.
func (XML) Pretty(t *tree.Tree, id tree.ID) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeXML(&buf, t, id, "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeXML(buf *bytes.Buffer, t *tree.Tree, id tree.ID, indent string) error {
	return writeXMLIndent(buf, t, id, indent, 0)
}

func writeXMLIndent(buf *bytes.Buffer, t *tree.Tree, id tree.ID, indent string, depth int) error {
	n := t.Node(id)
	if n == nil {
		return fmt.Errorf("codec: serialize: node %d not found", id)
	}
	if indent != "" {
		for i := 0; i < depth; i++ {
			buf.WriteString(indent)
		}
	}
	buf.WriteByte('<')
	buf.WriteString(n.Name)
	for _, a := range n.Attrs {
		fmt.Fprintf(buf, " %s=%q", a.Name, a.Value)
	}
	children := t.Children(id)
	if len(children) == 0 && n.Body == "" {
		buf.WriteString("/>")
	} else {
		buf.WriteByte('>')
		if len(children) == 0 {
			xml.EscapeText(buf, []byte(n.Body))
		} else {
			for _, c := range children {
				if indent != "" {
					buf.WriteByte('\n')
				}
				if err := writeXMLIndent(buf, t, c, indent, depth+1); err != nil {
					return err
				}
			}
			if indent != "" {
				buf.WriteByte('\n')
				for i := 0; i < depth; i++ {
					buf.WriteString(indent)
				}
			}
		}
		buf.WriteString("</")
		buf.WriteString(n.Name)
		buf.WriteByte('>')
	}
	return nil
}

// JSON is the RESTCONF wire codec. Namespaces are carried as a
// "namespace:name" prefix on every element that has a non-empty
// namespace; a child is not left unqualified when its parent already
// carries the same namespace.
type JSON struct{}

// Parse decodes a JSON document into a Tree. Each JSON object key becomes
// an element; arrays become repeated sibling elements (YANG lists and
// leaf-lists); scalars become an element body.
func (JSON) Parse(data []byte) (*tree.Tree, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("codec: parse json: %w", err)
	}
	if len(raw) != 1 {
		return nil, fmt.Errorf("codec: parse json: expected single top-level member, got %d", len(raw))
	}
	for k, v := range raw {
		name, ns := splitModuleQualified(k)
		t := tree.New(name, ns)
		if err := buildJSONValue(t, t.Root(), v); err != nil {
			return nil, err
		}
		return t, nil
	}
	panic("unreachable")
}

func splitModuleQualified(key string) (name, ns string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[i+1:], key[:i]
		}
	}
	return key, ""
}

func buildJSONValue(t *tree.Tree, id tree.ID, raw json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			name, ns := splitModuleQualified(k)
			var arr []json.RawMessage
			if err := json.Unmarshal(obj[k], &arr); err == nil {
				for _, item := range arr {
					cid := t.AddChild(id, name, ns)
					if err := buildJSONValue(t, cid, item); err != nil {
						return err
					}
				}
				continue
			}
			cid := t.AddChild(id, name, ns)
			if err := buildJSONValue(t, cid, obj[k]); err != nil {
				return err
			}
		}
		return nil
	}
	var scalar interface{}
	if err := json.Unmarshal(raw, &scalar); err != nil {
		return fmt.Errorf("codec: parse json: %w", err)
	}
	n := t.Node(id)
	switch v := scalar.(type) {
	case nil:
		n.Body = ""
	case string:
		n.Body = v
	default:
		n.Body = fmt.Sprintf("%v", v)
	}
	return nil
}

// Serialize encodes the subtree rooted at id as compact JSON.
func (j JSON) Serialize(t *tree.Tree, id tree.ID) ([]byte, error) {
	v := jsonValue(t, id)
	n := t.Node(id)
	out := map[string]interface{}{qualifiedName(n): v}
	return json.Marshal(out)
}

// Pretty encodes the subtree rooted at id as indented JSON.
func (j JSON) Pretty(t *tree.Tree, id tree.ID) ([]byte, error) {
	v := jsonValue(t, id)
	n := t.Node(id)
	out := map[string]interface{}{qualifiedName(n): v}
	return json.MarshalIndent(out, "", "  ")
}

func qualifiedName(n *tree.Node) string {
	if n.Namespace == "" {
		return n.Name
	}
	return n.Namespace + ":" + n.Name
}

func jsonValue(t *tree.Tree, id tree.ID) interface{} {
	children := t.Children(id)
	n := t.Node(id)
	if len(children) == 0 {
		return n.Body
	}
	byName := map[string][]tree.ID{}
	var order []string
	for _, c := range children {
		cn := t.Node(c)
		if _, ok := byName[cn.Name]; !ok {
			order = append(order, cn.Name)
		}
		byName[cn.Name] = append(byName[cn.Name], c)
	}
	obj := make(map[string]interface{}, len(order))
	for _, name := range order {
		ids := byName[name]
		if len(ids) == 1 {
			obj[qualifiedName(t.Node(ids[0]))] = jsonValue(t, ids[0])
			continue
		}
		arr := make([]interface{}, len(ids))
		for i, cid := range ids {
			arr[i] = jsonValue(t, cid)
		}
		obj[qualifiedName(t.Node(ids[0]))] = arr
	}
	return obj
}
