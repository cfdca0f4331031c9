package contact

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/internal/syncerr"
)

// MirrorReader is the read side of the local mirror
type MirrorReader interface {
	Order(ctx context.Context, id int64) (models.Order, bool, error)
	Customer(ctx context.Context, email string, customerID *int64) (models.Customer, bool, error)
	OrderLines(ctx context.Context, orderID int64) ([]models.LineProduct, error)
	CategoryNames(ctx context.Context, ids []int64) (map[int64]string, error)
	PurchaseHistory(ctx context.Context, email string) (models.PurchaseHistory, error)
}

// Builder joins an order with its customer, lines, categories and history
type Builder struct {
	mirror    MirrorReader
	storeURL  string
	mediaURL  string
	originTag string
	extraTags []string
}

func NewBuilder(mirror MirrorReader, storeURL, mediaURL, originTag string, extraTags []string) *Builder {
	return &Builder{
		mirror:    mirror,
		storeURL:  strings.TrimRight(storeURL, "/"),
		mediaURL:  strings.TrimRight(mediaURL, "/"),
		originTag: originTag,
		extraTags: extraTags,
	}
}

// Build assembles the payload of order id. A missing order or a payload
// without email is a MissingNaturalKeyError.
func (b *Builder) Build(ctx context.Context, orderID int64) (Payload, error) {
	order, ok, err := b.mirror.Order(ctx, orderID)
	if err != nil {
		return Payload{}, err
	}
	if !ok {
		return Payload{}, &syncerr.MissingNaturalKeyError{Entity: "order", Key: "entity_id", Ref: strconv.FormatInt(orderID, 10)}
	}

	p := Payload{
		OrderID:           order.EntityID,
		Email:             strings.ToLower(strings.TrimSpace(order.CustomerEmail)),
		LastOrderID:       order.IncrementID,
		LastOrderAmount:   order.GrandTotal,
		LastOrderCurrency: order.CurrencyCode,
		LastPurchaseDate:  order.CreatedAt,
		LastOrderStatus:   order.Status,
	}
	if p.LastOrderID == "" {
		p.LastOrderID = strconv.FormatInt(order.EntityID, 10)
	}

	cust, found, err := b.mirror.Customer(ctx, p.Email, order.CustomerID)
	if err != nil {
		return Payload{}, err
	}
	if found {
		if p.Email == "" {
			p.Email = cust.Email
		}
		p.FirstName, p.LastName = cust.FirstName, cust.LastName
		if p.FirstName == "" && p.LastName == "" {
			p.FirstName, p.LastName = splitFullName(cust.FullName)
		}
		if cust.Phone != nil {
			p.Phone = strings.TrimSpace(*cust.Phone)
		}
	}
	if p.Email == "" {
		return Payload{}, &syncerr.MissingNaturalKeyError{Entity: "order", Key: "email", Ref: strconv.FormatInt(orderID, 10)}
	}

	lines, err := b.mirror.OrderLines(ctx, orderID)
	if err != nil {
		return Payload{}, err
	}
	p.LastOrderProducts, p.LastOrderCategories, err = b.describeLines(ctx, lines)
	if err != nil {
		return Payload{}, err
	}

	hist, err := b.mirror.PurchaseHistory(ctx, p.Email)
	if err != nil {
		return Payload{}, err
	}
	p.HistoricCount, p.HistoricAmount, p.HasHistory = hist.Count, hist.Amount, true

	p.Note = noteText(order, len(lines))
	p.Tags = NormalizeTags(append([]string{b.originTag}, b.extraTags...))
	return p, nil
}

func (b *Builder) describeLines(ctx context.Context, lines []models.LineProduct) ([]ProductLine, string, error) {
	var out []ProductLine
	var catIDs []int64
	seenCat := map[int64]bool{}
	for _, l := range lines {
		pl := ProductLine{Name: strings.TrimSpace(l.Name), URL: b.productURL(l.URLKey), ImageURL: b.imageURL(l.Image)}
		if pl.Name != "" || pl.URL != "" || pl.ImageURL != "" {
			out = append(out, pl)
		}
		for _, id := range l.CategoryIDs {
			if id > 0 && !seenCat[id] {
				seenCat[id] = true
				catIDs = append(catIDs, id)
			}
		}
	}

	names, err := b.mirror.CategoryNames(ctx, catIDs)
	if err != nil {
		return nil, "", err
	}
	var cats []string
	seenName := map[string]bool{}
	for _, id := range catIDs {
		n := strings.TrimSpace(names[id])
		if n != "" && !seenName[n] {
			seenName[n] = true
			cats = append(cats, n)
		}
	}
	return out, strings.Join(cats, ", "), nil
}

func (b *Builder) productURL(urlKey string) string {
	urlKey = strings.TrimSpace(urlKey)
	if urlKey == "" {
		return ""
	}
	u := b.storeURL + "/" + strings.TrimLeft(urlKey, "/")
	if !strings.HasSuffix(u, ".html") {
		u += ".html"
	}
	return u
}

func (b *Builder) imageURL(image string) string {
	image = strings.TrimSpace(image)
	if image == "" {
		return ""
	}
	lower := strings.ToLower(image)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return image
	}
	return b.mediaURL + "/" + strings.TrimLeft(image, "/")
}

func splitFullName(full string) (string, string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func noteText(o models.Order, items int) string {
	id := o.IncrementID
	if id == "" {
		id = strconv.FormatInt(o.EntityID, 10)
	}
	amount := "-"
	if o.GrandTotal.Valid {
		amount = o.GrandTotal.Decimal.StringFixed(2)
	}
	date := "-"
	if o.CreatedAt != nil {
		date = o.CreatedAt.UTC().Format(DateLayout)
	}
	status := o.Status
	if status == "" {
		status = "-"
	}
	return fmt.Sprintf("Order %s\nAmount: %s\nItems: %d\nDate: %s\nStatus: %s", id, amount, items, date, status)
}
