package chrome

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/spigell/auto-applier/internal/utils"
)

const (
	elementAttr    = "data-aa-id"
	visibleAttr    = "data-aa-visible"
	valueAttr      = "data-aa-value"
	maxContentLen  = 8000
	maxLabelLength = 120
)

// Element is an interactive element of the current page.
type Element struct {
	ID          string
	Tag         string
	Type        string
	Name        string
	Label       string
	Placeholder string
	Value       string
	Required    bool
	Options     []string
}

// Selector returns the CSS selector that addresses the element.
func (e Element) Selector() string {
	return selectorFor(e.ID)
}

func selectorFor(id string) string {
	return fmt.Sprintf(`[%s="%s"]`, elementAttr, id)
}

// Page is an observation of the browser state.
type Page struct {
	URL      string
	Title    string
	Elements []Element
	Content  string
}

// parsePage reads marked interactive elements and the readable content out
// of the page HTML.
func parsePage(url, title, html string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}

	page := &Page{URL: url, Title: title}

	doc.Find("[" + elementAttr + "]").Each(func(_ int, sel *goquery.Selection) {
		if el, ok := elementFrom(doc, sel); ok {
			page.Elements = append(page.Elements, el)
		}
	})

	doc.Find("script, style, noscript, svg").Remove()
	body, _ := doc.Find("body").Html()
	if strings.TrimSpace(body) == "" {
		body, _ = doc.Html()
	}

	markdown, err := htmltomarkdown.ConvertString(body)
	if err != nil {
		markdown = strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	}
	page.Content = utils.Truncate(strings.TrimSpace(markdown), maxContentLen)

	return page, nil
}

func elementFrom(doc *goquery.Document, sel *goquery.Selection) (Element, bool) {
	tag := goquery.NodeName(sel)
	typ := strings.ToLower(attr(sel, "type"))

	if attr(sel, visibleAttr) == "0" && typ != "file" {
		return Element{}, false
	}
	if typ == "hidden" {
		return Element{}, false
	}

	el := Element{
		ID:          attr(sel, elementAttr),
		Tag:         tag,
		Type:        typ,
		Name:        attr(sel, "name"),
		Placeholder: attr(sel, "placeholder"),
		Required:    sel.Is("[required]") || attr(sel, "aria-required") == "true",
	}

	live, marked := sel.Attr(valueAttr)
	switch tag {
	case "select":
		sel.Find("option").Each(func(_ int, opt *goquery.Selection) {
			if text := cleanText(opt.Text()); text != "" {
				el.Options = append(el.Options, text)
			}
		})
		el.Value = cleanText(sel.Find("option[selected]").First().Text())
		if marked {
			el.Value = cleanText(live)
		}
	case "textarea":
		el.Value = cleanText(sel.Text())
		if marked {
			el.Value = cleanText(live)
		}
	case "input":
		switch {
		case typ == "password" || typ == "file":
		case marked:
			el.Value = live
		case typ == "checkbox" || typ == "radio":
			if sel.Is("[checked]") {
				el.Value = "checked"
			}
		default:
			el.Value = attr(sel, "value")
		}
	}

	el.Label = labelFor(doc, sel)
	if el.Label == "" && (tag == "button" || tag == "a") {
		el.Label = cleanText(sel.Text())
	}

	return el, true
}

func labelFor(doc *goquery.Document, sel *goquery.Selection) string {
	if id := attr(sel, "id"); id != "" {
		var text string
		doc.Find("label").EachWithBreak(func(_ int, label *goquery.Selection) bool {
			if attr(label, "for") == id {
				text = cleanText(label.Text())
				return false
			}
			return true
		})
		if text != "" {
			return text
		}
	}
	if parent := sel.Closest("label"); parent.Length() > 0 {
		if text := cleanText(parent.Text()); text != "" {
			return text
		}
	}
	if text := attr(sel, "aria-label"); text != "" {
		return text
	}
	return attr(sel, "title")
}

func attr(sel *goquery.Selection, name string) string {
	v, _ := sel.Attr(name)
	return strings.TrimSpace(v)
}

func cleanText(s string) string {
	return utils.Truncate(strings.Join(strings.Fields(s), " "), maxLabelLength)
}

// Describe renders the page for the model.
func (p *Page) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nTitle: %s\n\nInteractive elements:\n", p.URL, p.Title)
	if len(p.Elements) == 0 {
		b.WriteString("(none)\n")
	}
	for _, el := range p.Elements {
		fmt.Fprintf(&b, "[%s] <%s", el.ID, el.Tag)
		if el.Type != "" {
			fmt.Fprintf(&b, " type=%s", el.Type)
		}
		if el.Name != "" {
			fmt.Fprintf(&b, " name=%q", el.Name)
		}
		b.WriteString(">")
		if el.Label != "" {
			fmt.Fprintf(&b, " %q", el.Label)
		}
		if el.Placeholder != "" {
			fmt.Fprintf(&b, " placeholder=%q", el.Placeholder)
		}
		if el.Value != "" {
			fmt.Fprintf(&b, " value=%q", el.Value)
		}
		if len(el.Options) > 0 {
			fmt.Fprintf(&b, " options=%q", el.Options)
		}
		if el.Required {
			b.WriteString(" required")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nPage content:\n")
	b.WriteString(p.Content)
	return b.String()
}
