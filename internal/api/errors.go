// Package api is the error boundary between the engine and its transports:
// typed engine errors map to gRPC status codes, everything else collapses to
// Internal so no storage or crypto detail leaks to callers.
package api

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/evgray/keyfort-server/internal/model"
)

func HandleError(err error) error {
	if err == nil {
		return nil
	}

	var (
		notFound    *model.NotFoundError
		denied      *model.PermissionDeniedError
		invalidAuth *model.InvalidAuthDataError
		tampered    *model.TamperError
		inUse       *model.ClassInUseError
		badCount    *model.FactorCountError
	)

	switch {
	case errors.As(err, &notFound):
		return status.Error(codes.NotFound, notFound.Error())
	case errors.Is(err, model.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.As(err, &denied):
		return status.Error(codes.PermissionDenied, denied.Error())
	case errors.As(err, &invalidAuth):
		return status.Error(codes.Unauthenticated, invalidAuth.Error())
	case errors.Is(err, model.ErrNotAuthenticated):
		return status.Error(codes.Unauthenticated, "not authenticated")
	case errors.As(err, &tampered):
		return status.Error(codes.DataLoss, "integrity check failed")
	case errors.Is(err, model.ErrNoRecoveryToken):
		return status.Error(codes.FailedPrecondition, model.ErrNoRecoveryToken.Error())
	case errors.Is(err, model.ErrRecoveryTokenMismatch):
		return status.Error(codes.InvalidArgument, model.ErrRecoveryTokenMismatch.Error())
	case errors.Is(err, model.ErrRecoveryCodeInvalid):
		return status.Error(codes.InvalidArgument, model.ErrRecoveryCodeInvalid.Error())
	case errors.As(err, &inUse):
		return status.Error(codes.FailedPrecondition, inUse.Error())
	case errors.As(err, &badCount):
		return status.Error(codes.InvalidArgument, badCount.Error())
	case errors.Is(err, model.ErrAlreadyRegistered):
		return status.Error(codes.AlreadyExists, model.ErrAlreadyRegistered.Error())
	case errors.Is(err, model.ErrNotRegistered):
		return status.Error(codes.FailedPrecondition, model.ErrNotRegistered.Error())
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}
