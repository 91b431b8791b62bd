package spider

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnitsJSONPreservesOrder(t *testing.T) {
	t.Parallel()

	raw := `{"zeta":{"spider_name":"zeta","spider_desc":"z"},` +
		`"alpha":{"spider_name":"alpha","spider_desc":"a"},` +
		`"mid":{"spider_name":"mid","spider_desc":"m"}}`

	var units Units
	require.NoError(t, json.Unmarshal([]byte(raw), &units))
	require.Equal(t, []string{"zeta", "alpha", "mid"}, units.Names())

	out, err := json.Marshal(&units)
	require.NoError(t, err)
	require.JSONEq(t, `{`+
		`"zeta":{"spider_name":"zeta","spider_enable":false,"spider_proxy":false,"spider_desc":"z"},`+
		`"alpha":{"spider_name":"alpha","spider_enable":false,"spider_proxy":false,"spider_desc":"a"},`+
		`"mid":{"spider_name":"mid","spider_enable":false,"spider_proxy":false,"spider_desc":"m"}}`,
		string(out))
	require.Less(t, strings.Index(string(out), `"zeta"`), strings.Index(string(out), `"alpha"`))
	require.Less(t, strings.Index(string(out), `"alpha"`), strings.Index(string(out), `"mid"`))
}

func TestUnitsUnmarshalRejectsNonObject(t *testing.T) {
	t.Parallel()

	var units Units
	require.Error(t, json.Unmarshal([]byte(`[1,2]`), &units))
}

func TestRecordKeepsUnknownFields(t *testing.T) {
	t.Parallel()

	raw := `{"spider_name":"X","spider_desc":"d","spider_url":"https://x.example","spider_max_load_page":3}`
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	require.Equal(t, "X", rec.Name)
	require.Len(t, rec.Extra, 2)

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	require.JSONEq(t,
		`{"spider_name":"X","spider_enable":false,"spider_proxy":false,"spider_desc":"d",`+
			`"spider_url":"https://x.example","spider_max_load_page":3}`,
		string(out))
}

func TestRecordCloneIsDeep(t *testing.T) {
	t.Parallel()

	flag := true
	user := "me"
	rec := Record{
		Name:             "A",
		Description:      "d",
		Tags:             []string{"x"},
		BypassProtection: &flag,
		Username:         &user,
		Extra:            map[string]json.RawMessage{"k": json.RawMessage(`1`)},
	}
	cp := rec.Clone()
	cp.Tags[0] = "changed"
	*cp.BypassProtection = false
	*cp.Username = "other"
	cp.Extra["k"][0] = '2'

	require.Equal(t, "x", rec.Tags[0])
	require.True(t, *rec.BypassProtection)
	require.Equal(t, "me", *rec.Username)
	require.Equal(t, json.RawMessage(`1`), rec.Extra["k"])
}

func TestRecordValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Record{Name: "A", Description: "d"}.Validate())

	var verr *ValidationError
	require.ErrorAs(t, Record{Description: "d"}.Validate(), &verr)
	require.Equal(t, "spider_name", verr.Field)
	require.ErrorAs(t, Record{Name: "A"}.Validate(), &verr)
	require.Equal(t, "spider_desc", verr.Field)

	require.NoError(t, Record{Name: "A", Description: "d", ProxyType: ProxyRequests}.Validate())
	require.ErrorAs(t, Record{Name: "A", Description: "d", ProxyType: "foo"}.Validate(), &verr)
	require.Equal(t, "proxy_type", verr.Field)
}

func TestEncodeRecordIsIndented(t *testing.T) {
	t.Parallel()

	text, err := EncodeRecord(Record{Name: "A", Description: "d"})
	require.NoError(t, err)
	require.Contains(t, text, "\n  \"spider_name\": \"A\"")
}

func TestGlobalConfigCloneIsDeep(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig(DefaultRegistry())
	cfg.Tags = append(cfg.Tags, "global")
	cp := cfg.Clone()
	cp.Tags[0] = "changed"
	rec, _ := cp.Spiders.Get("Bt1louSpider")
	rec.Enabled = false
	cp.Spiders.Set("Bt1louSpider", rec)

	require.Equal(t, "global", cfg.Tags[0])
	orig, _ := cfg.Spiders.Get("Bt1louSpider")
	require.True(t, orig.Enabled)
}
