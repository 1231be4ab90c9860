package service

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrLayerNotFound   = errors.New("layer not found")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrHierarchyCycle  = errors.New("layer group hierarchy contains a cycle")
	ErrStaleResponse   = errors.New("catalog response superseded by a newer request")
)
