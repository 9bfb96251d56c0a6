package mqtt

import (
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/transitlive/internal/transit/model"
)

// Envelope keys of a change message.
const (
	keyTable  = "table"
	keyType   = "type"
	keyRecord = "record"
)

// DecodeChange parses a protojson Struct envelope {table, type, record} into a
// ChangeEvent. Only keys present in record are set on the patch.
func DecodeChange(payload []byte) (model.ChangeEvent, error) {
	var env structpb.Struct
	if err := protojson.Unmarshal(payload, &env); err != nil {
		return model.ChangeEvent{}, fmt.Errorf("malformed change envelope: %w", err)
	}
	fields := env.GetFields()

	ev := model.ChangeEvent{
		Table: fields[keyTable].GetStringValue(),
		Type:  model.EventType(strings.ToUpper(fields[keyType].GetStringValue())),
	}
	switch ev.Type {
	case model.EventInsert, model.EventUpdate, model.EventDelete:
	default:
		return model.ChangeEvent{}, fmt.Errorf("unknown change type %q", ev.Type)
	}

	record := fields[keyRecord].GetStructValue()
	if record == nil {
		return model.ChangeEvent{}, fmt.Errorf("change envelope has no record")
	}
	patch, err := decodePatch(record.GetFields())
	if err != nil {
		return model.ChangeEvent{}, err
	}
	ev.Patch = patch
	return ev, nil
}

// EncodeChange builds the envelope DecodeChange reads. Nil patch fields are omitted.
func EncodeChange(table string, typ model.EventType, p model.VehiclePatch) ([]byte, error) {
	record := map[string]any{"vehicle_id": p.VehicleID}
	if p.DriverID != nil {
		record["driver_id"] = *p.DriverID
	}
	if p.RouteID != nil {
		record["route_id"] = *p.RouteID
	}
	if p.PlateNumber != nil {
		record["plate_number"] = *p.PlateNumber
	}
	if p.Status != nil {
		record["status"] = *p.Status
	}
	if p.IsActive != nil {
		record["is_active"] = *p.IsActive
	}
	if p.Latitude != nil {
		record["latitude"] = *p.Latitude
	}
	if p.Longitude != nil {
		record["longitude"] = *p.Longitude
	}
	if p.OccupancyPercentage != nil {
		record["occupancy_percentage"] = *p.OccupancyPercentage
	}
	if p.LastUpdateAt != nil {
		record["last_update_at"] = p.LastUpdateAt.UTC().Format(time.RFC3339Nano)
	}

	env, err := structpb.NewStruct(map[string]any{
		keyTable:  table,
		keyType:   string(typ),
		keyRecord: record,
	})
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(env)
}

func decodePatch(rec map[string]*structpb.Value) (model.VehiclePatch, error) {
	var p model.VehiclePatch

	for key, v := range rec {
		switch normalizeKey(key) {
		case "vehicleid":
			p.VehicleID = v.GetStringValue()
		case "id":
			if p.VehicleID == "" {
				p.VehicleID = v.GetStringValue()
			}
		case "driverid":
			p.DriverID = stringField(v)
		case "routeid":
			p.RouteID = stringField(v)
		case "platenumber":
			p.PlateNumber = stringField(v)
		case "status":
			p.Status = stringField(v)
		case "isactive":
			b := v.GetBoolValue()
			p.IsActive = &b
		case "latitude":
			p.Latitude = coordinateField(v)
		case "longitude":
			p.Longitude = coordinateField(v)
		case "occupancypercentage":
			p.OccupancyPercentage = numberField(v)
		case "lastupdateat":
			if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
				continue
			}
			ts, err := time.Parse(time.RFC3339Nano, v.GetStringValue())
			if err != nil {
				return p, fmt.Errorf("invalid %s: %w", key, err)
			}
			p.LastUpdateAt = &ts
		}
	}

	if p.VehicleID == "" {
		return p, fmt.Errorf("change record has no vehicle id")
	}
	return p, nil
}

// normalizeKey folds snake_case and camelCase spellings together.
func normalizeKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "_", ""))
}

func stringField(v *structpb.Value) *string {
	s := v.GetStringValue()
	return &s
}

// coordinateField reads a coordinate. A null coordinate is a cleared position,
// not a fix at zero, so it is treated as absent.
func coordinateField(v *structpb.Value) *float64 {
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil
	}
	return numberField(v)
}

// numberField reads a number; null reads as zero. Non-finite values are dropped.
func numberField(v *structpb.Value) *float64 {
	n := v.GetNumberValue()
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	return &n
}
