/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * PTP/MTP operation and response codes
 */

package ptpwire

// Standard PTP operation codes consumed by the core.
const (
	OpGetDeviceInfo    uint16 = 0x1001
	OpOpenSession      uint16 = 0x1002
	OpCloseSession     uint16 = 0x1003
	OpGetStorageIDs    uint16 = 0x1004
	OpGetStorageInfo   uint16 = 0x1005
	OpGetObjectHandles uint16 = 0x1007
	OpGetObjectInfo    uint16 = 0x1008
	OpGetObject        uint16 = 0x1009
	OpDeleteObject     uint16 = 0x100B
	OpSendObjectInfo   uint16 = 0x100C
	OpSendObject       uint16 = 0x100D
	OpGetPartialObject uint16 = 0x101B
)

// Extension operation codes, used opportunistically.
const (
	OpGetObjectPropList   uint16 = 0x9805
	OpGetPartialObject64  uint16 = 0x95C1
	OpSendPartialObject   uint16 = 0x95C2
)

// Response codes the core interprets specifically.
const (
	RespOK                       uint16 = 0x2001
	RespOperationNotSupported    uint16 = 0x2005
	RespObjectNotFound           uint16 = 0x2009
	RespStorageFull              uint16 = 0x200D
	RespStoreReadOnly            uint16 = 0x200E
	RespDeviceBusy               uint16 = 0x2019
	RespTransactionCancelled     uint16 = 0x2012
	RespParameterNotSupported    uint16 = 0x201D
	RespSessionAlreadyOpen       uint16 = 0x201E
)

// Class-specific control requests used for USB-PTP device management
//.
const (
	ReqGetDeviceStatus     uint8 = 0x67
	ReqTypeGetDeviceStatus uint8 = 0xA1

	ReqResetDevice     uint8 = 0x66
	ReqTypeResetDevice uint8 = 0x21
)
