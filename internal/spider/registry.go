package spider

import (
	"fmt"
	"sync"
)

// Registry is the immutable set of compiled-in spider definitions. It is the
// schema source of truth: every accessor hands out deep copies.
type Registry struct {
	units *Units
}

// NewRegistry validates records and builds a Registry in the given order.
func NewRegistry(records ...Record) (*Registry, error) {
	units := NewUnits()
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		if units.Has(rec.Name) {
			return nil, fmt.Errorf("registry: duplicate spider %q", rec.Name)
		}
		units.Set(rec.Name, rec)
	}
	return &Registry{units: units}, nil
}

// Len returns the number of definitions.
func (r *Registry) Len() int {
	return r.units.Len()
}

// Names returns the spider names in registry order.
func (r *Registry) Names() []string {
	return r.units.Names()
}

// Lookup returns a copy of the named default definition.
func (r *Registry) Lookup(name string) (Record, bool) {
	return r.units.Get(name)
}

// Units returns a fresh deep copy of every definition.
func (r *Registry) Units() *Units {
	return r.units.Clone()
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	reg, err := NewRegistry(defaultRecords()...)
	if err != nil {
		panic(err)
	}
	return reg
})

// DefaultRegistry returns the process-wide registry of built-in spiders.
func DefaultRegistry() *Registry {
	return defaultRegistry()
}

func defaultRecords() []Record {
	yes, no := true, false
	empty := ""
	return []Record{
		{
			Name:             "Bt1louSpider",
			Enabled:          true,
			BypassProtection: &yes,
			ProxyType:        ProxyPlaywright,
			Description:      "BT之家1LOU站-回归初心，追求极简",
			Tags:             []string{"电影", "电视剧", "动漫", "纪录片", "综艺"},
		},
		{
			Name:        "BtBtlSpider",
			Enabled:     true,
			ProxyType:   ProxyPlaywright,
			Description: "BT影视_4k高清电影BT下载_蓝光迅雷电影下载_最新电视剧下载",
		},
		{
			Name:        "BtBuLuoSpider",
			Enabled:     true,
			ProxyType:   ProxyPlaywright,
			Description: "BT部落天堂 - 注重体验与质量的影视资源下载网站",
		},
		{
			Name:        "BtdxSpider",
			Enabled:     true,
			ProxyType:   ProxyPlaywright,
			Description: "比特大雄_BT电影天堂_最新720P、1080P高清电影BT种子免注册下载网站",
		},
		{
			Name:        "BtttSpider",
			Enabled:     true,
			ProxyType:   ProxyPlaywright,
			Description: "BT天堂 - 2025最新高清电影1080P|2160P|4K资源免费下载",
		},
		{
			Name:        "Dytt8899Spider",
			Enabled:     true,
			ProxyType:   ProxyPlaywright,
			Description: "电影天堂_电影下载_高清首发",
		},
		{
			Name:        "Bt0lSpider",
			Enabled:     true,
			ProxyType:   ProxyPlaywright,
			Description: "不太灵-影视管理系统",
		},
		{
			Name:             "CiLiXiongSpider",
			Enabled:          true,
			BypassProtection: &yes,
			ProxyType:        ProxyPlaywright,
			Description:      "磁力熊，支持完结影视",
		},
		{
			Name:             "GyingKSpider",
			Enabled:          true,
			BypassProtection: &no,
			ProxyType:        ProxyPlaywright,
			Description:      "观影 GYING",
			Username:         &empty,
			Password:         &empty,
		},
	}
}
