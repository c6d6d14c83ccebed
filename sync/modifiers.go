package sync

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/tidwall/gjson"
)

// Modifiers available to table column paths, e.g. `title|@pathJoinURL:"https://en.wikipedia.org/wiki/"`.
func init() {

	gjson.AddModifier("pathJoinURL", func(json, arg string) string {
		var result string
		path := gjson.Parse(json)
		if !path.Exists() {
			return ""
		}
		if strings.HasPrefix(arg, `"`) {
			arg = gjson.Parse(arg).String()
		}
		if s, err := url.JoinPath(arg, path.String()); err == nil {
			result = s
		}
		return strconv.Quote(result)
	})

	gjson.AddModifier("contains", func(json, arg string) string {
		if strings.HasPrefix(arg, `"`) {
			arg = gjson.Parse(arg).String()
		}
		res := gjson.Parse(json)
		if res.IsArray() {
			for _, v := range res.Array() {
				if strings.Contains(v.String(), arg) {
					return "true"
				}
			}
			return "false"
		}
		return fmt.Sprintf("%t", strings.Contains(res.String(), arg))
	})

	gjson.AddModifier("snakeCase", func(json, arg string) string {
		res := gjson.Parse(json)
		if !res.Exists() {
			return ""
		}
		return strconv.Quote(strcase.ToSnake(res.String()))
	})

	// unix converts an ISO-8601 timestamp to epoch seconds
	gjson.AddModifier("unix", func(json, arg string) string {
		res := gjson.Parse(json)
		if !res.Exists() {
			return ""
		}
		t, err := time.Parse(time.RFC3339, res.String())
		if err != nil {
			return ""
		}
		return strconv.FormatInt(t.Unix(), 10)
	})

	gjson.AddModifier("now", func(json, arg string) string {
		return strconv.Quote(time.Now().UTC().Format(time.RFC3339))
	})

}
