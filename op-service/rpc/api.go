package rpc

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	oplog "github.com/mantlenetworkio/teleport/op-service/log"
)

// CommonAdminAPI is the admin namespace shared by services.
type CommonAdminAPI struct {
	log log.Logger
}

func NewCommonAdminAPI(log log.Logger) *CommonAdminAPI {
	return &CommonAdminAPI{
		log: log,
	}
}

func (n *CommonAdminAPI) SetLogLevel(ctx context.Context, lvlStr string) error {
	lvl, err := oplog.LevelFromString(lvlStr)
	if err != nil {
		return err
	}
	// The level is changed on the handler itself, a filter wrapped around it would
	// still be subject to the previous level.
	h := n.log.Handler()
	lvlSetter, ok := h.(oplog.LvlSetter)
	if !ok {
		return fmt.Errorf("log handler type %T cannot change log level", h)
	}
	lvlSetter.SetLogLevel(lvl)
	n.log.Info("changed log level", "level", lvlStr)
	return nil
}
