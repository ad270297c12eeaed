// Package catalog хранит серверные цены товаров, тарифы дизайна и таблицу доставки.
// Клиентские цены никогда не используются при расчёте заказа.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Ключ международного тарифа доставки в таблице shipping.
const internationalZone = "international"

// Variant — вариант товара с ценой в центах.
type Variant struct {
	ID         string `yaml:"id"`
	PriceMinor int64  `yaml:"priceMinor"`
}

// Product — товар каталога.
type Product struct {
	ID       string    `yaml:"id"`
	Name     string    `yaml:"name"`
	Variants []Variant `yaml:"variants"`
	// Digital отмечает товары без физической доставки (файл макета).
	Digital bool `yaml:"digital"`
}

// Item — позиция каталога, найденная по товару и варианту.
type Item struct {
	ProductID  string
	Variant    string
	Name       string
	PriceMinor int64
	Digital    bool
}

// Tier — тариф дизайна, который открывает подарочный код.
type Tier struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	PriceMinor int64  `yaml:"priceMinor"`
}

type document struct {
	Currency string           `yaml:"currency"`
	Shipping map[string]int64 `yaml:"shipping"`
	Tiers    []Tier           `yaml:"tiers"`
	Products []Product        `yaml:"products"`
}

// Catalog — неизменяемый после загрузки справочник цен.
type Catalog struct {
	currency string
	shipping map[string]int64
	tiers    map[string]Tier
	products map[string]Product
	prices   map[string]int64
}

// Default возвращает встроенный каталог.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// Load читает каталог из YAML-файла; пустой путь означает встроенный каталог.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse разбирает и проверяет YAML-документ каталога.
func Parse(raw []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{
		currency: strings.ToLower(strings.TrimSpace(doc.Currency)),
		shipping: make(map[string]int64, len(doc.Shipping)),
		tiers:    make(map[string]Tier, len(doc.Tiers)),
		products: make(map[string]Product, len(doc.Products)),
		prices:   make(map[string]int64),
	}
	if c.currency == "" {
		c.currency = "usd"
	}

	for zone, rate := range doc.Shipping {
		if rate < 0 {
			return nil, fmt.Errorf("shipping rate for %s is negative", zone)
		}
		c.shipping[strings.ToUpper(zone)] = rate
	}
	if _, ok := c.shipping[strings.ToUpper(internationalZone)]; !ok {
		return nil, fmt.Errorf("shipping table must define %q rate", internationalZone)
	}

	for _, tier := range doc.Tiers {
		if tier.ID == "" || tier.PriceMinor <= 0 {
			return nil, fmt.Errorf("tier %q must have id and positive price", tier.ID)
		}
		c.tiers[tier.ID] = tier
	}

	for _, product := range doc.Products {
		if product.ID == "" || len(product.Variants) == 0 {
			return nil, fmt.Errorf("product %q must have id and variants", product.ID)
		}
		for _, v := range product.Variants {
			if v.PriceMinor <= 0 {
				return nil, fmt.Errorf("product %s variant %s must have positive price", product.ID, v.ID)
			}
			c.prices[priceKey(product.ID, v.ID)] = v.PriceMinor
		}
		c.products[product.ID] = product
	}

	return c, nil
}

func priceKey(productID, variant string) string {
	return productID + "/" + variant
}

// Currency возвращает валюту каталога.
func (c *Catalog) Currency() string {
	return c.currency
}

// Lookup возвращает серверную цену варианта товара.
func (c *Catalog) Lookup(productID, variant string) (Item, bool) {
	price, ok := c.prices[priceKey(productID, variant)]
	if !ok {
		return Item{}, false
	}
	product := c.products[productID]
	return Item{
		ProductID:  productID,
		Variant:    variant,
		Name:       product.Name,
		PriceMinor: price,
		Digital:    product.Digital,
	}, true
}

// ShippingRate возвращает ставку доставки: отдельные для US и CA, остальные страны по международной.
func (c *Catalog) ShippingRate(country string) int64 {
	if rate, ok := c.shipping[strings.ToUpper(strings.TrimSpace(country))]; ok {
		return rate
	}
	return c.shipping[strings.ToUpper(internationalZone)]
}

// Tier ищет тариф по идентификатору.
func (c *Catalog) Tier(id string) (Tier, bool) {
	tier, ok := c.tiers[id]
	return tier, ok
}
