package core

// SessionID names one live connection. Minted by the HTTP layer (uuid).
type SessionID string
