package convert

import (
	"fmt"
	"strings"

	"github.com/sells-group/jartic-cli/internal/coords"
	"github.com/sells-group/jartic-cli/internal/feature"
)

// OnewayCode is the regulation code of one-way restrictions.
const OnewayCode = "11"

// IsOneway reports whether a regulation code denotes a one-way restriction.
func IsOneway(regulation string) bool {
	return strings.TrimSpace(regulation) == OnewayCode
}

// SetOnewayProperties records how a one-way feature's vertex order was
// derived. rawDirection is the direction cell as read; when it is absent
// only the one-way flags are written.
func SetOnewayProperties(p *feature.Properties, rawDirection any) {
	p.Set("oneway_preserved", true)
	p.Set("is_oneway", true)
	p.Set("regulation_code", OnewayCode)

	if rawDirection == nil {
		return
	}

	switch dir := coords.ParseDirection(rawDirection); dir {
	case coords.DirectionProhibited:
		p.Set("direction_code_type", dir.String())
		p.Set("direction_code_value", dir.Code())
		p.Set("direction_type_desc", "禁止方向（推奨）")
		p.Set("start_point_type", "entry_prohibited")
		p.Set("end_point_type", "oneway_start")
		p.Set("coordinate_order", string(coords.OrderOriginal))
		p.Set("coordinate_order_desc", "座標順序維持（禁止方向）")
		p.Set("direction_desc", "進入禁止地点→一方通行開始地点（禁止方向）")
	case coords.DirectionDesignated:
		p.Set("direction_code_type", dir.String())
		p.Set("direction_code_value", dir.Code())
		p.Set("direction_type_desc", "指定方向（非推奨）")
		p.Set("start_point_type", "entry_prohibited")
		p.Set("end_point_type", "oneway_start")
		p.Set("coordinate_order", string(coords.OrderReversed))
		p.Set("coordinate_order_desc", "座標を逆順に変換して禁止方向に統一")
		p.Set("original_coordinate_desc", "元の座標は一方通行開始地点→進入禁止地点（通行可能方向）")
		p.Set("direction_desc", "進入禁止地点→一方通行開始地点（禁止方向に変換済み）")
	default:
		text := strings.TrimSpace(fmt.Sprint(rawDirection))
		p.Set("direction_code_type", dir.String())
		p.Set("direction_code_value", text)
		p.Set("direction_type_desc", "方向コード不明: "+text)
		p.Set("start_point_type", "unknown")
		p.Set("end_point_type", "unknown")
		p.Set("coordinate_order", string(coords.OrderUnknown))
		p.Set("coordinate_order_desc", "方向コード不明のため座標順序不明")
	}
}
