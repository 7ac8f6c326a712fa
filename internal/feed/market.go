package feed

import (
	"bufio"
	"encoding/json"
	"io"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// ── Market metadata ────────────────────────────────────────
// Optional enrichment: a second export stream describes which markets
// each product is published to and each market's per-locale storefront
// root URLs. The stream uses the same __parentId chaining as the main
// export (publication → market, market → rootUrls, publication →
// product) and is consumed in two passes: collect markets and URLs,
// then associate products.

// RootURL is one locale-tagged storefront base URL of a market.
type RootURL struct {
	Locale string `json:"locale"`
	URL    string `json:"url"`
}

// MarketInfo describes one market a product is published to.
type MarketInfo struct {
	Handle   string    `json:"handle"`
	Name     string    `json:"name"`
	RootURLs []RootURL `json:"rootUrls,omitempty"`
}

// ProductMarkets is the per-product association: handle/title plus the
// markets it is published to, sorted by market handle.
type ProductMarkets struct {
	Handle  string       `json:"handle"`
	Title   string       `json:"title"`
	Markets []MarketInfo `json:"markets"`
}

const marketGIDPrefix = "gid://shopify/Market/"

// MarketStore holds product→markets associations behind an optional
// bounded LRU. Enrichment is best-effort by contract, so capping the
// store trades completeness on the oldest entries for memory on very
// large stores; entries evicted simply leave their products unenriched.
type MarketStore struct {
	byProduct map[string]ProductMarkets
	cache     *lru.Cache[string, ProductMarkets]
}

// NewMarketStore creates a store. maxEntries <= 0 keeps every
// association in a plain map.
func NewMarketStore(maxEntries int) *MarketStore {
	if maxEntries > 0 {
		c, err := lru.New[string, ProductMarkets](maxEntries)
		if err == nil {
			return &MarketStore{cache: c}
		}
	}
	return &MarketStore{byProduct: make(map[string]ProductMarkets)}
}

func (s *MarketStore) put(productID string, pm ProductMarkets) {
	if s.cache != nil {
		s.cache.Add(productID, pm)
		return
	}
	s.byProduct[productID] = pm
}

// Lookup returns the market associations for a product id.
func (s *MarketStore) Lookup(productID string) (ProductMarkets, bool) {
	if s.cache != nil {
		return s.cache.Get(productID)
	}
	pm, ok := s.byProduct[productID]
	return pm, ok
}

// Len reports how many products currently have associations.
func (s *MarketStore) Len() int {
	if s.cache != nil {
		return s.cache.Len()
	}
	return len(s.byProduct)
}

// MarketLoader parses the market export stream.
type MarketLoader struct {
	MaxEntries int // LRU bound for the resulting store; <= 0 unbounded
	log        *zap.SugaredLogger
}

// NewMarketLoader builds a loader; log may be nil.
func NewMarketLoader(maxEntries int, log *zap.SugaredLogger) *MarketLoader {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &MarketLoader{MaxEntries: maxEntries, log: log}
}

// Load consumes the market stream in two passes. open must return a
// fresh reader over the decompressed stream on each call (the stream is
// read twice).
func (l *MarketLoader) Load(open func() (io.ReadCloser, error)) (*MarketStore, error) {
	marketsByPublication := make(map[string]RawRecord)
	urlsByMarket := make(map[string][]RootURL)

	// Pass 1: markets and their root URLs.
	if err := l.scan(open, func(rec RawRecord) {
		id := rec.ID()
		switch {
		case strings.HasPrefix(id, marketGIDPrefix):
			marketsByPublication[rec.ParentID()] = rec
		default:
			if raw, ok := rec["rootUrls"].([]any); ok {
				urlsByMarket[rec.ParentID()] = parseRootURLs(raw)
			}
		}
	}); err != nil {
		return nil, err
	}

	// Pass 2: product → market associations via the owning publication.
	store := NewMarketStore(l.MaxEntries)
	pending := make(map[string]*ProductMarkets)
	var productOrder []string
	if err := l.scan(open, func(rec RawRecord) {
		id := rec.ID()
		if !strings.Contains(id, productSegment) {
			return
		}
		pm, ok := pending[id]
		if !ok {
			handle, _ := rec["handle"].(string)
			title, _ := rec["title"].(string)
			pm = &ProductMarkets{Handle: handle, Title: title}
			pending[id] = pm
			productOrder = append(productOrder, id)
		}

		market, ok := marketsByPublication[rec.ParentID()]
		if !ok {
			return
		}
		handle, _ := market["handle"].(string)
		name, _ := market["name"].(string)
		for _, existing := range pm.Markets {
			if existing.Handle == handle {
				return
			}
		}
		pm.Markets = append(pm.Markets, MarketInfo{
			Handle:   handle,
			Name:     name,
			RootURLs: urlsByMarket[market.ID()],
		})
	}); err != nil {
		return nil, err
	}

	for _, id := range productOrder {
		pm := pending[id]
		if len(pm.Markets) == 0 {
			continue
		}
		sort.Slice(pm.Markets, func(i, j int) bool {
			return pm.Markets[i].Handle < pm.Markets[j].Handle
		})
		store.put(id, *pm)
	}

	l.log.Infow("market metadata loaded", "products", store.Len())
	return store, nil
}

func (l *MarketLoader) scan(open func() (io.ReadCloser, error), fn func(RawRecord)) error {
	r, err := open()
	if err != nil {
		return err
	}
	defer r.Close()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec RawRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			l.log.Warnw("skipping malformed market line", "error", err)
			continue
		}
		fn(rec)
	}
	return sc.Err()
}

func parseRootURLs(raw []any) []RootURL {
	urls := make([]RootURL, 0, len(raw))
	for _, u := range raw {
		m, ok := asMap(u)
		if !ok {
			continue
		}
		locale, _ := m["locale"].(string)
		url, _ := m["url"].(string)
		if locale != "" && url != "" {
			urls = append(urls, RootURL{Locale: locale, URL: url})
		}
	}
	return urls
}

// mergeMarkets enriches one output product with its market attributes:
// sp_markets (names), sp_markets_handle (handles) and one
// sp_market_{handle}_{locale}_url per advertised market/locale pair.
// When the configured primary market/locale pair matches, the canonical
// url attribute is overwritten with that market's URL. A product with no
// association passes through untouched.
func (d *Deriver) mergeMarkets(out *OutputProduct, markets *MarketStore) {
	productID, _ := out.Attributes["sp_id"].(string)
	if productID == "" {
		return
	}
	pm, ok := markets.Lookup(productID)
	if !ok {
		return
	}

	names := make([]any, 0, len(pm.Markets))
	handles := make([]any, 0, len(pm.Markets))
	for _, m := range pm.Markets {
		names = append(names, m.Name)
		handles = append(handles, m.Handle)
	}
	out.Attributes["sp_markets"] = names
	out.Attributes["sp_markets_handle"] = handles

	productHandle, _ := out.Attributes["sp_handle"].(string)
	if productHandle == "" {
		return
	}
	for _, m := range pm.Markets {
		for _, ru := range m.RootURLs {
			attr := "sp_market_" + m.Handle + "_" + ru.Locale + "_url"
			out.Attributes[attr] = ru.URL + "products/" + productHandle

			if d.cfg.Market != "" && m.Handle == d.cfg.Market && ru.Locale == d.cfg.Language {
				out.Attributes["url"] = strings.TrimRight(ru.URL, "/") + "/products/" + productHandle
			}
		}
	}
}
