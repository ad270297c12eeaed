// Package design управляет макетами печати, привязанными к заказу.
package design

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

// Service добавляет и утверждает макеты. Все операции доступны только владельцу заказа.
type Service struct {
	orders domain.OrderRepository
	logger *log.Entry
	now    func() time.Time
}

// NewService создаёт сервис макетов.
func NewService(orders domain.OrderRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "design-service")
	}
	return &Service{orders: orders, logger: logger, now: time.Now}
}

// Attach привязывает макет по ссылке. Ссылка должна быть абсолютным http(s) URL.
func (s *Service) Attach(ctx context.Context, userID, orderID, assetURL string) (domain.DesignAsset, error) {
	assetURL = strings.TrimSpace(assetURL)
	if !validAssetURL(assetURL) {
		return domain.DesignAsset{}, domain.NewValidationError("assetUrl", domain.ErrDesignURLRequired)
	}
	if _, err := s.ownedOrder(ctx, userID, orderID); err != nil {
		return domain.DesignAsset{}, err
	}

	asset := domain.DesignAsset{
		ID:        ulid.Make().String(),
		OrderID:   orderID,
		URL:       assetURL,
		CreatedAt: s.now().UTC(),
	}
	if err := s.orders.AddDesign(ctx, asset); err != nil {
		return domain.DesignAsset{}, err
	}
	s.logger.WithFields(log.Fields{"order_id": orderID, "asset_id": asset.ID}).Info("design attached")
	return asset, nil
}

// Approve помечает макет утверждённым; повторное утверждение сдвигает ApprovedAt.
func (s *Service) Approve(ctx context.Context, userID, orderID, assetID string) (domain.DesignAsset, error) {
	if _, err := s.ownedOrder(ctx, userID, orderID); err != nil {
		return domain.DesignAsset{}, err
	}
	at := s.now().UTC()
	if err := s.orders.ApproveDesign(ctx, orderID, assetID, at); err != nil {
		return domain.DesignAsset{}, err
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.DesignAsset{}, err
	}
	for _, d := range order.Designs {
		if d.ID == assetID {
			s.logger.WithFields(log.Fields{"order_id": orderID, "asset_id": assetID}).Info("design approved")
			return d, nil
		}
	}
	return domain.DesignAsset{}, domain.ErrDesignNotFound
}

// ownedOrder скрывает чужие заказы за ErrOrderNotFound.
func (s *Service) ownedOrder(ctx context.Context, userID, orderID string) (domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, domain.NewValidationError("orderId", domain.ErrOrderIDRequired)
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !order.OwnedBy(userID) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func validAssetURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
