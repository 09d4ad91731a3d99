package utils

import (
	"github.com/pkg/errors"
)

// GetStackWithError は、エラーにスタックトレースを付与して返します
// 出力時は %+v でスタックトレースを含めて表示できます
func GetStackWithError(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}
