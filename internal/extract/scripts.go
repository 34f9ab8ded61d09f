package extract

import (
	"encoding/json"
	"fmt"
)

// Results of selectOptionJS.
const (
	optionSelected = "ok"
	optionNoSelect = "missing"
	optionNoMatch  = "no-option"
)

// selectOptionJS picks the option whose visible label equals label and fires
// the events the dashboard listens to.
const selectOptionJS = `(function(sel, label) {
	const el = document.querySelector(sel);
	if (!el || !el.options) { return "missing"; }
	for (const opt of el.options) {
		if (opt.text.trim() === label) {
			el.value = opt.value;
			el.dispatchEvent(new Event("input", {bubbles: true}));
			el.dispatchEvent(new Event("change", {bubbles: true}));
			return "ok";
		}
	}
	return "no-option";
})(%s, %s)`

// setValueJS replaces an input's value the way typing would.
const setValueJS = `(function(sel, value) {
	const el = document.querySelector(sel);
	if (!el) { return false; }
	el.focus();
	el.value = value;
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return true;
})(%s, %s)`

// dismissJS closes an open date picker without a positional click.
const dismissJS = `(function(sel) {
	if (document.activeElement) { document.activeElement.blur(); }
	const el = document.querySelector(sel);
	if (el) { el.dispatchEvent(new MouseEvent("click", {bubbles: true})); }
	return true;
})(%s)`

// clickJS clicks an element even when it is covered or not yet visible.
const clickJS = `(function(sel) {
	const el = document.querySelector(sel);
	if (!el) { return false; }
	el.click();
	return true;
})(%s)`

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func script(tmpl string, args ...string) string {
	quoted := make([]interface{}, len(args))
	for i, a := range args {
		quoted[i] = jsString(a)
	}
	return fmt.Sprintf(tmpl, quoted...)
}
