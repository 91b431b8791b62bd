package spider

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// DecodeResult reads a {success, message} acknowledgement. Missing or
// malformed fields read as false / empty.
func DecodeResult(raw json.RawMessage) Result {
	if !gjson.ValidBytes(raw) {
		return Result{}
	}
	doc := gjson.ParseBytes(raw)
	return Result{
		Success: doc.Get("success").Bool(),
		Message: doc.Get("message").String(),
	}
}

// DecodeStatus reads the aggregate status leniently: absent numbers are zero,
// an absent tag list is empty and an absent label is "running". ok is false
// when the body is empty or not an object, in which case nothing should be
// applied.
func DecodeStatus(raw json.RawMessage) (Status, bool) {
	if !gjson.ValidBytes(raw) {
		return Status{}, false
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Status{}, false
	}
	st := Status{
		Total:    int(doc.Get("total").Int()),
		Enabled:  int(doc.Get("enabled").Int()),
		Disabled: int(doc.Get("disabled").Int()),
		Tags:     []string{},
		Status:   doc.Get("status").String(),
	}
	for _, tag := range doc.Get("tags").Array() {
		st.Tags = append(st.Tags, tag.String())
	}
	if st.Status == "" {
		st.Status = "running"
	}
	return st, true
}

// DecodeActivity reads the recent-activity feed. Anything that is not an array
// yields an empty feed.
func DecodeActivity(raw json.RawMessage) []Activity {
	items := []Activity{}
	if !gjson.ValidBytes(raw) {
		return items
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsArray() {
		return items
	}
	doc.ForEach(func(_, item gjson.Result) bool {
		items = append(items, Activity{
			Type:  item.Get("type").String(),
			Title: item.Get("title").String(),
			Time:  item.Get("time").String(),
		})
		return true
	})
	return items
}
