// Package toast keeps the transient notifications ("toasts") shown to a visitor.
//
// A Manager holds a newest-first list of at most MaxVisible toasts. Each toast
// moves through three states:
//
//	OPEN --Dismiss or auto-dismiss timer--> CLOSING (Open=false, removal timer armed)
//	CLOSING --removal timer or second Dismiss--> REMOVED
//
// Every state change is broadcast to observers synchronously and in order.
// Observers may call back into the Manager; the nested change is delivered
// after the one currently being broadcast.
//
// A Registry owns one Manager per visitor key and closes idle ones.
package toast
