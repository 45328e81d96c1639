package marketplace

import "errors"

// ErrorKind enumerates the precondition failures of marketplace operations.
type ErrorKind int

const (
	// KindUnknown is returned by KindOf for errors outside the marketplace taxonomy.
	KindUnknown ErrorKind = iota
	KindNotOwner
	KindNftAlreadyListed
	KindMarketplaceNotApproved
	KindNftNotListed
	KindInsufficientTransfer
	KindInvalidPrice
	KindNoHoldings
)

var kindNames = map[ErrorKind]string{
	KindUnknown:                "Unknown",
	KindNotOwner:               "NotOwner",
	KindNftAlreadyListed:       "NftAlreadyListed",
	KindMarketplaceNotApproved: "MarketplaceNotApproved",
	KindNftNotListed:           "NftNotListed",
	KindInsufficientTransfer:   "InsufficientTransfer",
	KindInvalidPrice:           "InvalidPrice",
	KindNoHoldings:             "NoHoldings",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Error is a marketplace precondition failure. Compare with errors.Is against the
// sentinel values below, or switch on KindOf.
type Error struct {
	Kind    ErrorKind
	message string
}

func (e *Error) Error() string {
	return e.message
}

var (
	ErrNotOwner               = &Error{Kind: KindNotOwner, message: "caller is not the nft owner"}
	ErrNftAlreadyListed       = &Error{Kind: KindNftAlreadyListed, message: "nft already listed"}
	ErrMarketplaceNotApproved = &Error{Kind: KindMarketplaceNotApproved, message: "marketplace not approved for nft"}
	ErrNftNotListed           = &Error{Kind: KindNftNotListed, message: "nft not listed"}
	ErrInsufficientTransfer   = &Error{Kind: KindInsufficientTransfer, message: "payment does not match listing price"}
	ErrInvalidPrice           = &Error{Kind: KindInvalidPrice, message: "price must be greater than zero"}
	ErrNoHoldings             = &Error{Kind: KindNoHoldings, message: "no holdings to withdraw"}
)

// KindOf returns the taxonomy kind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
