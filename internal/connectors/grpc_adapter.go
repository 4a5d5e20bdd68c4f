package connectors

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/quorumgate/internal/domain"
	"github.com/xela07ax/quorumgate/internal/ledger"
)

// Имена методов внешнего ledger-сервиса. Wire-формат для движка непрозрачен,
// поэтому адаптер не тянет сгенерированные стабы, а гоняет generic-пейлоады
// (structpb.Struct) через сырой ClientConn.Invoke.
const (
	methodCreateRequest  = "/ledger.v1.LedgerService/CreateRequest"
	methodGetRequest     = "/ledger.v1.LedgerService/GetRequest"
	methodAddSignature   = "/ledger.v1.LedgerService/AddSignature"
	methodExecuteRequest = "/ledger.v1.LedgerService/ExecuteRequest"
	methodRejectRequest  = "/ledger.v1.LedgerService/RejectRequest"
	methodActiveRequests = "/ledger.v1.LedgerService/GetActiveRequestIds"
	methodGetSignatures  = "/ledger.v1.LedgerService/GetSignatures"
)

type GRPCLedger struct {
	conn        *grpc.ClientConn
	callTimeout time.Duration
}

// NewGRPCLedger создает адаптер поверх готового соединения
func NewGRPCLedger(conn *grpc.ClientConn, callTimeout time.Duration) *GRPCLedger {
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &GRPCLedger{conn: conn, callTimeout: callTimeout}
}

// invoke выполняет вызов с защитным таймаутом на уровне адаптера.
// Даже если ReliableLedger имеет свой, адаптер должен иметь свой предел.
func (a *GRPCLedger) invoke(ctx context.Context, op, method string, in map[string]interface{}) (map[string]interface{}, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, &ledger.CallError{Op: op, Cause: fmt.Errorf("encode request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	resp := new(structpb.Struct)
	if err := a.conn.Invoke(ctx, method, req, resp); err != nil {
		// NotFound транслируем в доменную ошибку, остальное — сбой внешней системы
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrNotFound
		}
		return nil, &ledger.CallError{Op: op, Cause: err}
	}
	return resp.AsMap(), nil
}

func (a *GRPCLedger) CreateRequest(ctx context.Context, req *domain.Request) (string, error) {
	out, err := a.invoke(ctx, "create", methodCreateRequest, map[string]interface{}{
		"operation_type":      req.OperationType,
		"target_address":      req.TargetAddress,
		"payload":             base64.StdEncoding.EncodeToString(req.Payload),
		"value":               req.Value,
		"required_signatures": req.RequiredSignatures,
		"created_at":          req.CreatedAt.Format(time.RFC3339Nano),
		"expires_at":          req.ExpiresAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}

	id, _ := out["request_id"].(string)
	if id == "" {
		return "", &ledger.CallError{Op: "create", Cause: fmt.Errorf("ledger returned empty request_id")}
	}
	return id, nil
}

func (a *GRPCLedger) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	out, err := a.invoke(ctx, "get", methodGetRequest, map[string]interface{}{"request_id": id})
	if err != nil {
		return nil, err
	}
	return decodeRequest(out)
}

func (a *GRPCLedger) AddSignature(ctx context.Context, id, signer string, blob []byte) error {
	_, err := a.invoke(ctx, "add_signature", methodAddSignature, map[string]interface{}{
		"request_id": id,
		"signer":     signer,
		"signature":  base64.StdEncoding.EncodeToString(blob),
	})
	return err
}

func (a *GRPCLedger) ExecuteRequest(ctx context.Context, id string) error {
	_, err := a.invoke(ctx, "execute", methodExecuteRequest, map[string]interface{}{"request_id": id})
	return err
}

func (a *GRPCLedger) RejectRequest(ctx context.Context, id string) error {
	_, err := a.invoke(ctx, "reject", methodRejectRequest, map[string]interface{}{"request_id": id})
	return err
}

func (a *GRPCLedger) ActiveRequestIDs(ctx context.Context) ([]string, error) {
	out, err := a.invoke(ctx, "active", methodActiveRequests, map[string]interface{}{})
	if err != nil {
		return nil, err
	}

	raw, _ := out["request_ids"].([]interface{})
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (a *GRPCLedger) GetSignatures(ctx context.Context, id string) (map[string]domain.SignatureRecord, error) {
	out, err := a.invoke(ctx, "signatures", methodGetSignatures, map[string]interface{}{"request_id": id})
	if err != nil {
		return nil, err
	}

	raw, _ := out["signatures"].(map[string]interface{})
	return decodeSignatures(raw), nil
}

// decodeRequest собирает доменную заявку из generic-ответа ledger
func decodeRequest(m map[string]interface{}) (*domain.Request, error) {
	req := &domain.Request{
		ID:            asString(m["request_id"]),
		OperationType: asString(m["operation_type"]),
		TargetAddress: asString(m["target_address"]),
		Value:         asString(m["value"]),
		Status:        domain.RequestStatus(asString(m["status"])),
	}

	if blob, err := base64.StdEncoding.DecodeString(asString(m["payload"])); err == nil {
		req.Payload = blob
	}
	if n, ok := m["required_signatures"].(float64); ok {
		req.RequiredSignatures = int(n)
	}

	var err error
	if req.CreatedAt, err = time.Parse(time.RFC3339Nano, asString(m["created_at"])); err != nil {
		return nil, &ledger.CallError{Op: "get", Cause: fmt.Errorf("bad created_at: %w", err)}
	}
	if req.ExpiresAt, err = time.Parse(time.RFC3339Nano, asString(m["expires_at"])); err != nil {
		return nil, &ledger.CallError{Op: "get", Cause: fmt.Errorf("bad expires_at: %w", err)}
	}

	sigs, _ := m["signatures"].(map[string]interface{})
	req.Signatures = decodeSignatures(sigs)
	return req, nil
}

func decodeSignatures(raw map[string]interface{}) map[string]domain.SignatureRecord {
	out := make(map[string]domain.SignatureRecord, len(raw))
	for signer, v := range raw {
		fields, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		rec := domain.SignatureRecord{Signer: signer}
		if blob, err := base64.StdEncoding.DecodeString(asString(fields["signature"])); err == nil {
			rec.Blob = blob
		}
		if at, err := time.Parse(time.RFC3339Nano, asString(fields["submitted_at"])); err == nil {
			rec.SubmittedAt = at
		}
		out[signer] = rec
	}
	return out
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
