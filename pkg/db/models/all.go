package models

// All lists every persisted model, in dependency order, for AutoMigrate in
// SQLite mode and tests. Postgres schemas come from the goose migrations.
func All() []any {
	return []any{
		&Customer{},
		&Wallet{},
		&WalletTransaction{},
		&CatalogItem{},
		&Basket{},
		&Coupon{},
		&CouponRedemption{},
		&SequenceAllocation{},
		&Order{},
		&PaymentAttempt{},
		&OutboxEvent{},
		&ReconciliationCase{},
	}
}
