package carrier

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// page is a parsed HTML document.
type page struct {
	root *html.Node
}

func parsePage(body []byte) (*page, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return &page{root: root}, nil
}

func (p *page) find(match func(n *html.Node) bool) *html.Node {
	var walk func(n *html.Node) *html.Node
	walk = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && match(n) {
			return n
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if found := walk(child); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(p.root)
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// meta returns the content of <meta name=...>.
func (p *page) meta(name string) string {
	n := p.find(func(n *html.Node) bool {
		if n.Data != "meta" {
			return false
		}
		v, _ := attr(n, "name")
		return strings.EqualFold(v, name)
	})
	if n == nil {
		return ""
	}
	v, _ := attr(n, "content")
	return v
}

// input returns the value of <input name=...>.
func (p *page) input(name string) string {
	n := p.find(func(n *html.Node) bool {
		if n.Data != "input" {
			return false
		}
		v, _ := attr(n, "name")
		return v == name
	})
	if n == nil {
		return ""
	}
	v, _ := attr(n, "value")
	return v
}

// dataAttr returns the first value of a data-* attribute anywhere in the page.
func (p *page) dataAttr(key string) string {
	var value string
	p.find(func(n *html.Node) bool {
		if v, ok := attr(n, key); ok && v != "" {
			value = v
			return true
		}
		return false
	})
	return value
}

// memberIDPattern catches ids embedded in inline script state.
var memberIDPattern = regexp.MustCompile(`"memberId"\s*:\s*"([A-Za-z0-9-]+)"`)

// scrapeMemberID extracts the member id from an authenticated page.
func scrapeMemberID(body []byte) string {
	if p, err := parsePage(body); err == nil {
		if id := p.meta("member-id"); id != "" {
			return id
		}
		if id := p.dataAttr("data-member-id"); id != "" {
			return id
		}
	}
	if m := memberIDPattern.FindSubmatch(body); m != nil {
		return string(m[1])
	}
	return ""
}
