package server

const (
	RouteLogin    = "/auth/login"
	RouteCallback = "/auth/callback"
	RouteLogout   = "/auth/logout"
	RouteSession  = "/auth/session"
	RouteMe       = "/auth/me"
	RouteHealthz  = "/healthz"
)
