// Package xmlresp turns the upstream's XML envelopes into a flat, always-slice shape.
//
// Every upstream operation answers with the same envelope:
//
//	<response>
//	  <header><resultCode>00</resultCode><resultMsg>NORMAL SERVICE.</resultMsg></header>
//	  <body><items><item>...</item></items><totalCount>2</totalCount></body>
//	</response>
//
// where <items> holds zero, one or many <item> elements. Parse always yields a slice.
package xmlresp

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Result codes with special meaning.
const (
	CodeSuccess    = "00"
	CodeParseError = "PARSE_ERROR"
)

// Item is one <item>, child element name to trimmed text.
type Item map[string]string

// Text returns the trimmed value of key. An exact match wins; otherwise the
// first case-insensitive match is used (the upstream mixes HVS59 and hvs59).
func (it Item) Text(key string) string {
	if v, ok := it[key]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range it {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Int parses Text(key) as a base-10 integer, 0 when absent or non-numeric.
// Leading digits are accepted ("12병상" parses as 12).
func (it Item) Int(key string) int {
	return leadingInt(it.Text(key))
}

// Response is the normalized envelope.
type Response struct {
	Success       bool   `json:"success"`
	ResultCode    string `json:"code"`
	ResultMessage string `json:"message"`
	Items         []Item `json:"items"`
	TotalCount    int    `json:"totalCount"`
}

// node is a minimal element tree.
type node struct {
	name     string
	text     strings.Builder
	children []*node
}

func (n *node) child(name string) *node {
	if n == nil {
		return nil
	}
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *node) all(name string) []*node {
	if n == nil {
		return nil
	}
	var out []*node
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func (n *node) value() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.text.String())
}

// Parse normalizes raw. It never panics; malformed input yields a
// Response with ResultCode CodeParseError and no items.
func Parse(raw []byte) Response {
	root, err := decodeTree(raw)
	if err != nil {
		return Response{
			Success:       false,
			ResultCode:    CodeParseError,
			ResultMessage: err.Error(),
			Items:         []Item{},
		}
	}

	resp := root
	if root.name != "response" {
		if r := root.child("response"); r != nil {
			resp = r
		}
	}

	header := resp.child("header")
	body := resp.child("body")

	code := header.child("resultCode").value()
	out := Response{
		Success:       code == CodeSuccess || code == "",
		ResultCode:    code,
		ResultMessage: header.child("resultMsg").value(),
		Items:         []Item{},
		TotalCount:    leadingInt(body.child("totalCount").value()),
	}

	for _, el := range body.child("items").all("item") {
		item := make(Item, len(el.children))
		for _, field := range el.children {
			item[field.name] = field.value()
		}
		out.Items = append(out.Items, item)
	}

	return out
}

// decodeTree reads raw into an element tree rooted at the first element.
func decodeTree(raw []byte) (*node, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Strict = true
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	var root *node
	var stack []*node

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xml decode: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}

	if root == nil {
		return nil, errors.New("xml decode: no root element")
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("xml decode: unclosed element <%s>", stack[len(stack)-1].name)
	}
	return root, nil
}

func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		break
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}
