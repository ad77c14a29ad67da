package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketplace-service/models"
	"marketplace-service/repository"
)

// CartService defines the interface for cart operations.
type CartService interface {
	GetCart(ctx context.Context, userID string) (*models.CartSnapshot, *ServiceError)
	AddItem(ctx context.Context, userID string, req models.AddCartItemRequest) (*models.CartSnapshot, *ServiceError)
	UpdateItem(ctx context.Context, userID, productID string, quantity int) (*models.CartSnapshot, *ServiceError)
	RemoveItem(ctx context.Context, userID, productID string) (*models.CartSnapshot, *ServiceError)
	ApplyVoucher(ctx context.Context, userID, code string) (*models.CartSnapshot, *ServiceError)
	RemoveVoucher(ctx context.Context, userID string) (*models.CartSnapshot, *ServiceError)
	ClearCart(ctx context.Context, userID string) *ServiceError
}

type cartServiceImpl struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	vouchers repository.VoucherRepository
	logger   *zap.Logger
}

func NewCartService(
	carts repository.CartRepository,
	products repository.ProductRepository,
	vouchers repository.VoucherRepository,
	logger *zap.Logger,
) CartService {
	return &cartServiceImpl{carts: carts, products: products, vouchers: vouchers, logger: logger}
}

func (s *cartServiceImpl) load(ctx context.Context, userID string) (*models.Cart, *ServiceError) {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to load cart", zap.String("user_id", userID), zap.Error(err))
		return nil, internalError("Failed to load cart")
	}
	if cart == nil {
		cart = &models.Cart{UserID: userID, Items: []models.CartItem{}}
	}
	return cart, nil
}

func (s *cartServiceImpl) save(ctx context.Context, cart *models.Cart) (*models.CartSnapshot, *ServiceError) {
	if err := s.carts.SaveCart(ctx, cart); err != nil {
		s.logger.Error("Failed to save cart", zap.String("user_id", cart.UserID), zap.Error(err))
		return nil, internalError("Failed to save cart")
	}
	return s.snapshot(ctx, cart)
}

// snapshot prices the cart against current catalog data.
func (s *cartServiceImpl) snapshot(ctx context.Context, cart *models.Cart) (*models.CartSnapshot, *ServiceError) {
	ids := make([]string, 0, len(cart.Items))
	for _, it := range cart.Items {
		ids = append(ids, it.ProductID)
	}
	products := map[string]models.Product{}
	if len(ids) > 0 {
		var err error
		if products, err = s.products.FindByIDs(ctx, ids); err != nil {
			s.logger.Error("Failed to resolve cart products", zap.Error(err))
			return nil, internalError("Failed to load cart")
		}
	}

	snap := &models.CartSnapshot{
		UserID:      cart.UserID,
		Lines:       make([]models.CartLine, 0, len(cart.Items)),
		VoucherCode: cart.VoucherCode,
		UpdatedAt:   cart.UpdatedAt,
	}
	subtotal := decimal.Zero
	for _, it := range cart.Items {
		line := models.CartLine{ProductID: it.ProductID, Quantity: it.Quantity}
		if p, ok := products[it.ProductID]; ok && p.DeletedAt == nil {
			unit := decimal.NewFromFloat(p.EffectivePrice())
			total := unit.Mul(decimal.NewFromInt(int64(it.Quantity)))
			line.Name = p.Name
			line.UnitPrice = unit.InexactFloat64()
			line.LineTotal = total.InexactFloat64()
			line.AvailabilityCount = p.AvailabilityCount
			line.InStock = p.AvailabilityCount >= it.Quantity
			subtotal = subtotal.Add(total)
		}
		snap.Lines = append(snap.Lines, line)
	}
	snap.Subtotal = subtotal.Round(2).InexactFloat64()
	return snap, nil
}

func (s *cartServiceImpl) GetCart(ctx context.Context, userID string) (*models.CartSnapshot, *ServiceError) {
	cart, svcErr := s.load(ctx, userID)
	if svcErr != nil {
		return nil, svcErr
	}
	return s.snapshot(ctx, cart)
}

// AddItem adds quantity to the line for the product. Stock is checked at checkout.
func (s *cartServiceImpl) AddItem(ctx context.Context, userID string, req models.AddCartItemRequest) (*models.CartSnapshot, *ServiceError) {
	if req.Quantity < 1 {
		return nil, fieldError("quantity", "must be at least 1")
	}
	if _, err := s.products.FindByID(ctx, req.ProductID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("Product")
		}
		return nil, internalError("Failed to fetch product")
	}

	cart, svcErr := s.load(ctx, userID)
	if svcErr != nil {
		return nil, svcErr
	}
	found := false
	for i := range cart.Items {
		if cart.Items[i].ProductID == req.ProductID {
			cart.Items[i].Quantity += req.Quantity
			found = true
			break
		}
	}
	if !found {
		cart.Items = append(cart.Items, models.CartItem{ProductID: req.ProductID, Quantity: req.Quantity})
	}
	return s.save(ctx, cart)
}

// UpdateItem sets the quantity of a line; zero removes it.
func (s *cartServiceImpl) UpdateItem(ctx context.Context, userID, productID string, quantity int) (*models.CartSnapshot, *ServiceError) {
	if quantity < 0 {
		return nil, fieldError("quantity", "must not be negative")
	}
	cart, svcErr := s.load(ctx, userID)
	if svcErr != nil {
		return nil, svcErr
	}
	for i := range cart.Items {
		if cart.Items[i].ProductID != productID {
			continue
		}
		if quantity == 0 {
			cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
		} else {
			cart.Items[i].Quantity = quantity
		}
		return s.save(ctx, cart)
	}
	return nil, notFoundError("Cart item")
}

func (s *cartServiceImpl) RemoveItem(ctx context.Context, userID, productID string) (*models.CartSnapshot, *ServiceError) {
	return s.UpdateItem(ctx, userID, productID, 0)
}

// ApplyVoucher stores a usable code on the cart. The voucher is redeemed at checkout.
func (s *cartServiceImpl) ApplyVoucher(ctx context.Context, userID, code string) (*models.CartSnapshot, *ServiceError) {
	v, err := s.vouchers.FindByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("Voucher")
	}
	if err != nil {
		return nil, internalError("Failed to fetch voucher")
	}
	if v.Used {
		return nil, domainConflict("Voucher %s has already been used", v.Code)
	}
	if !v.ExpiresAt.After(time.Now()) {
		return nil, domainConflict("Voucher %s has expired", v.Code)
	}

	cart, svcErr := s.load(ctx, userID)
	if svcErr != nil {
		return nil, svcErr
	}
	cart.VoucherCode = v.Code
	return s.save(ctx, cart)
}

func (s *cartServiceImpl) RemoveVoucher(ctx context.Context, userID string) (*models.CartSnapshot, *ServiceError) {
	cart, svcErr := s.load(ctx, userID)
	if svcErr != nil {
		return nil, svcErr
	}
	cart.VoucherCode = ""
	return s.save(ctx, cart)
}

func (s *cartServiceImpl) ClearCart(ctx context.Context, userID string) *ServiceError {
	if err := s.carts.DeleteCart(ctx, userID); err != nil {
		s.logger.Error("Failed to clear cart", zap.String("user_id", userID), zap.Error(err))
		return internalError("Failed to clear cart")
	}
	return nil
}
