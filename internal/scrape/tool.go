package scrape

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/quill/internal/tools"
)

// ToolName is the registered name of the product scraping tool.
const ToolName = "scrape_products"

// maxFieldChars caps long text fields such as descriptions.
const maxFieldChars = 300

// Provider contributes scrape_products when an Apify client is set.
func Provider(a *Apify) tools.Provider {
	return tools.ProviderFunc{
		ProviderName: "scrape",
		Fn: func(context.Context) ([]*tools.Tool, error) {
			if a == nil {
				return nil, nil
			}
			return []*tools.Tool{{
				Name:        ToolName,
				Description: "Extract product listings (name, price, brand, link) from an e-commerce page or by product keyword. Slow; use only when structured product data is needed.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"url": map[string]any{
							"type":        "string",
							"description": "Product or category page to scrape.",
						},
						"keyword": map[string]any{
							"type":        "string",
							"description": "Product keyword to search for when no URL is known.",
						},
						"limit": map[string]any{
							"type":        "integer",
							"description": "Maximum products to return (1-25). Default: 10.",
						},
					},
				},
				Handler: handler(a),
			}}, nil
		},
	}
}

func handler(a *Apify) tools.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		pageURL := tools.StringArg(args, "url")
		keyword := tools.StringArg(args, "keyword")
		if pageURL == "" && keyword == "" {
			return "", fmt.Errorf("%s: url or keyword is required", ToolName)
		}
		limit := min(max(tools.IntArg(args, "limit", 10), 1), 25)

		items, err := a.Run(ctx, pageURL, keyword, limit)
		if err != nil {
			return "", err
		}
		return FormatItems(items), nil
	}
}

// FormatItems renders dataset items as a numbered list.
func FormatItems(items []Item) string {
	if len(items) == 0 {
		return "No products found."
	}
	var sb strings.Builder
	for i, it := range items {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, first(it, "name", "title"))
		if price := price(it); price != "" {
			sb.WriteString(" - " + price)
		}
		if brand := text(it["brand"]); brand != "" {
			sb.WriteString("\n   Brand: " + brand)
		}
		if link := first(it, "url", "link"); link != "" {
			sb.WriteString("\n   " + link)
		}
		if desc := first(it, "description", "text"); desc != "" {
			sb.WriteString("\n   " + clip(desc, maxFieldChars))
		}
	}
	return sb.String()
}

func first(it Item, keys ...string) string {
	for _, k := range keys {
		if s := text(it[k]); s != "" {
			return s
		}
	}
	return ""
}

// price reads a top-level price or a schema.org style offers object.
func price(it Item) string {
	p, currency := text(it["price"]), text(it["currency"])
	if offers, ok := it["offers"].(map[string]any); ok {
		if p == "" {
			p = text(offers["price"])
		}
		if currency == "" {
			currency = text(offers["priceCurrency"])
		}
	}
	if p == "" {
		return ""
	}
	return strings.TrimSpace(p + " " + currency)
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.Join(strings.Fields(t), " ")
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", t), "0"), ".")
	case map[string]any:
		return first(Item(t), "name", "slug")
	default:
		return fmt.Sprint(t)
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
