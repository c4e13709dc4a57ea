package snowflake

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once

	errInvalidNodeID      = errors.New("invalid snowflake machine or datacenter id")
	errGeneratorUninitial = errors.New("snowflake generator is not initialized")
)

// Init machineID 与 dataCenterID 各占 5 位，取值 0~31
func Init(machineID, dataCenterID int64) error {
	var initErr error

	once.Do(func() {
		if machineID < 0 || machineID > 31 || dataCenterID < 0 || dataCenterID > 31 {
			initErr = errInvalidNodeID
			return
		}
		node, initErr = snowflake.NewNode(dataCenterID<<5 | machineID)
	})

	return initErr
}

// NextID 占座记录主键
func NextID() (int64, error) {
	if node == nil {
		return 0, errGeneratorUninitial
	}
	return node.Generate().Int64(), nil
}

// NextMessageID 出站消息 ID，格式 <prefix>_<id>，下游用于幂等
func NextMessageID(prefix string) (string, error) {
	if node == nil {
		return "", fmt.Errorf("failed to generate message ID: %w", errGeneratorUninitial)
	}
	return prefix + "_" + node.Generate().String(), nil
}
