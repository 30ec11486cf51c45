package dom

import (
	"strings"
	"sync"
	"testing"
)

const sample = `<html><body>
<div id="a" data-replay-url="/r/1.hlt"></div>
<div id="b">plain</div>
<span data-date-time="2024-03-05T14:30:00Z">fallback</span>
<div id="c" data-replay-url=""></div>
</body></html>`

func TestSelectByTagAndAttr(t *testing.T) {
	doc, err := ParseString(sample)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	divs := doc.Select("div", "data-replay-url")
	if len(divs) != 2 {
		t.Fatalf("expected 2 replay divs, got %d", len(divs))
	}
	if id, _ := divs[0].Attr("id"); id != "a" {
		t.Fatalf("expected document order, first id %q", id)
	}
	if v, ok := divs[1].Attr("data-replay-url"); !ok || v != "" {
		t.Fatalf("expected empty but present attribute, got %q %v", v, ok)
	}
	if spans := doc.Select("span", "data-date-time"); len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if all := doc.Select("", "data-date-time"); len(all) != 1 {
		t.Fatalf("expected wildcard tag to match span, got %d", len(all))
	}
}

func TestSetInnerHTMLReplacesChildren(t *testing.T) {
	doc, _ := ParseString(`<div data-x="1"><p>old</p></div>`)
	el := doc.Select("div", "data-x")[0]
	if err := el.SetInnerHTML(`<h1>new <a href="/u">/u</a></h1>`); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := el.InnerHTML(); got != `<h1>new <a href="/u">/u</a></h1>` {
		t.Fatalf("unexpected inner html %q", got)
	}
	if strings.Contains(doc.String(), "old") {
		t.Fatalf("old content still present")
	}
}

func TestSetTextEscapes(t *testing.T) {
	doc, _ := ParseString(`<span data-t="1">x</span>`)
	el := doc.Select("span", "data-t")[0]
	el.SetText("a < b")
	if el.Text() != "a < b" {
		t.Fatalf("unexpected text %q", el.Text())
	}
	if !strings.Contains(doc.String(), "a &lt; b") {
		t.Fatalf("expected escaped output, got %s", doc.String())
	}
}

func TestConcurrentMutations(t *testing.T) {
	doc, _ := ParseString(strings.Repeat(`<div data-x="1"></div>`, 20))
	els := doc.Select("div", "data-x")
	var wg sync.WaitGroup
	for _, el := range els {
		wg.Add(1)
		go func(el *Element) {
			defer wg.Done()
			_ = el.SetInnerHTML("<b>done</b>")
		}(el)
	}
	wg.Wait()
	if n := strings.Count(doc.String(), "<b>done</b>"); n != 20 {
		t.Fatalf("expected 20 rewritten elements, got %d", n)
	}
}
