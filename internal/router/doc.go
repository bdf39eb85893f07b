// Package router resolves request paths to configured routes.
//
// A Table is built once from configuration and never mutated. Resolution is
// longest-prefix match on whole path segments: the prefix /api/order matches
// /api/order and /api/order/42 but not /api/orders.
//
//	table, err := router.NewTable(cfg)
//	route, err := table.Resolve("/api/order/42")
//	if errors.Is(err, router.ErrRouteNotFound) {
//	    // 404, no backend contact
//	}
package router
