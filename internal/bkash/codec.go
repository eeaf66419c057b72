package bkash

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

func encodeObject(fields [][2]string) []byte {
	var e jx.Encoder
	e.ObjStart()
	for _, f := range fields {
		e.FieldStart(f[0])
		e.Str(f[1])
	}
	e.ObjEnd()
	return e.Bytes()
}

func encodeGrant(appKey, appSecret string) []byte {
	return encodeObject([][2]string{
		{"app_key", appKey},
		{"app_secret", appSecret},
	})
}

func encodeCreate(cfg Config, req CreateRequest) []byte {
	return encodeObject([][2]string{
		{"mode", cfg.Mode},
		{"payerReference", req.PayerReference},
		{"callbackURL", req.CallbackURL},
		{"amount", req.Amount.StringFixed(2)},
		{"currency", cfg.Currency},
		{"intent", cfg.Intent},
		{"merchantInvoiceNumber", req.MerchantInvoiceNumber},
	})
}

func encodeExecute(paymentID string) []byte {
	return encodeObject([][2]string{
		{"paymentID", paymentID},
	})
}

// decodeFields walks a flat JSON object and hands every scalar value to set
// as a string. Numbers keep their literal form; nested values are skipped.
func decodeFields(data []byte, set func(key, value string)) error {
	d := jx.DecodeBytes(data)
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch d.Next() {
		case jx.String:
			v, err := d.Str()
			if err != nil {
				return errors.Wrapf(err, "decode %s", key)
			}
			set(string(key), v)
		case jx.Number:
			v, err := d.Num()
			if err != nil {
				return errors.Wrapf(err, "decode %s", key)
			}
			set(string(key), string(v))
		default:
			return d.Skip()
		}
		return nil
	})
}

func decodeGrant(data []byte) (grantResponse, error) {
	var r grantResponse
	err := decodeFields(data, func(key, value string) {
		switch key {
		case "id_token":
			r.IDToken = value
		case "refresh_token":
			r.RefreshToken = value
		case "expires_in":
			r.ExpiresIn = value
		case "statusCode", "errorCode":
			r.StatusCode = value
		case "statusMessage", "errorMessage", "msg":
			r.StatusMessage = value
		}
	})
	return r, err
}

func decodeCreate(data []byte) (CreateResponse, error) {
	var r CreateResponse
	err := decodeFields(data, func(key, value string) {
		switch key {
		case "statusCode", "errorCode":
			r.StatusCode = value
		case "statusMessage", "errorMessage":
			r.StatusMessage = value
		case "paymentID":
			r.PaymentID = value
		case "bkashURL":
			r.BkashURL = value
		case "transactionStatus":
			r.TransactionStatus = value
		}
	})
	return r, err
}

func decodeExecute(data []byte) (ExecuteResponse, error) {
	var r ExecuteResponse
	err := decodeFields(data, func(key, value string) {
		switch key {
		case "statusCode", "errorCode":
			r.StatusCode = value
		case "statusMessage", "errorMessage":
			r.StatusMessage = value
		case "paymentID":
			r.PaymentID = value
		case "trxID":
			r.TrxID = value
		case "amount":
			r.Amount = value
		case "transactionStatus":
			r.TransactionStatus = value
		case "customerMsisdn":
			r.CustomerMSISDN = value
		case "merchantInvoiceNumber":
			r.MerchantInvoiceNumber = value
		}
	})
	return r, err
}
